package main

import (
	"strings"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
	"github.com/mahaj/convoflow/pkg/presence"
	"github.com/mahaj/convoflow/pkg/typing"
)

type sidebarEntry struct {
	UserID         string
	Name           string
	ConversationID string
	Online         bool
	Typing         bool
	Unread         int
}

// buildSidebar lists existing conversations first, then the users the caller
// has not talked to yet. search filters both by name, ignoring case.
func buildSidebar(now time.Time, convs []model.ConversationSummary, users []model.User, unread map[string]int, search string) []sidebarEntry {
	search = strings.ToLower(strings.TrimSpace(search))
	matches := func(name string) bool {
		return search == "" || strings.Contains(strings.ToLower(name), search)
	}

	entries := make([]sidebarEntry, 0, len(convs)+len(users))
	talkedTo := make(map[string]bool, len(convs))
	for _, c := range convs {
		talkedTo[c.OtherUser.ID] = true
		if !matches(c.OtherUser.Name) {
			continue
		}
		entries = append(entries, sidebarEntry{
			UserID:         c.OtherUser.ID,
			Name:           c.OtherUser.Name,
			ConversationID: c.ID,
			Online:         c.OtherUser.IsOnline && presence.IsOnline(now, c.OtherUser.LastSeen),
			Typing:         typing.IsTyping(now, c.OtherUser.Typing),
			Unread:         unread[c.ID],
		})
	}

	for _, u := range users {
		if talkedTo[u.ID] || !matches(u.Name) {
			continue
		}
		entries = append(entries, sidebarEntry{
			UserID: u.ID,
			Name:   u.Name,
			Online: u.IsOnline && presence.IsOnline(now, u.LastSeen),
		})
	}
	return entries
}
