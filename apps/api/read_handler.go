package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mahaj/convoflow/pkg/auth"
)

type ReadRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req ReadRequest
	if !decode(w, r, &req) {
		return
	}

	err := a.chat.MarkConversationAsRead(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"], req.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.chat.UnreadCounts(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
