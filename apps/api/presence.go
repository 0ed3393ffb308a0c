package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mahaj/convoflow/pkg/auth"
)

type SignalRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := a.chat.UpdatePresence(r.Context(), auth.FromContext(r.Context()), req.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optionalID(id))
}

func (a *API) UserPresence(w http.ResponseWriter, r *http.Request) {
	p, err := a.chat.UserPresence(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["userId"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) UpdateTyping(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !decode(w, r, &req) {
		return
	}

	if err := a.chat.UpdateTyping(r.Context(), auth.FromContext(r.Context()), req.UserID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
