package chat

import "errors"

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrNotAMember       = errors.New("not a member of this conversation")
	ErrIdentityMismatch = errors.New("user id does not match the authenticated user")
	ErrSelfConversation = errors.New("cannot create a conversation with yourself")
	ErrNoReceiver       = errors.New("could not determine the receiver of this conversation")
	ErrEmptyBody        = errors.New("message body is empty")
)
