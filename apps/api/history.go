package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mahaj/convoflow/pkg/auth"
)

type SendRequest struct {
	Body string `json:"body"`
}

func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decode(w, r, &req) {
		return
	}

	id, err := a.chat.SendMessage(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"], req.Body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, optionalID(id))
}

func (a *API) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.chat.Messages(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
