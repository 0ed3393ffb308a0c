package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mahaj/convoflow/pkg/auth"
)

type ConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

func (a *API) GetOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OtherUserID == "" {
		badRequest(w, "other_user_id is required")
		return
	}

	id, err := a.chat.GetOrCreateConversation(r.Context(), auth.FromContext(r.Context()), req.OtherUserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optionalID(id))
}

func (a *API) ConversationByMembers(w http.ResponseWriter, r *http.Request) {
	otherUserID := mux.Vars(r)["otherUserId"]
	conv, err := a.chat.FindDirectConversation(r.Context(), auth.FromContext(r.Context()), otherUserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) UserConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := a.chat.UserConversations(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}
