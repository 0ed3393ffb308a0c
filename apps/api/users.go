package main

import (
	"net/http"

	"github.com/mahaj/convoflow/pkg/auth"
)

func (a *API) SyncUser(w http.ResponseWriter, r *http.Request) {
	id, err := a.chat.SyncUser(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optionalID(id))
}

func (a *API) SetOnline(w http.ResponseWriter, r *http.Request) {
	id, err := a.chat.SetOnline(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optionalID(id))
}

func (a *API) SetOffline(w http.ResponseWriter, r *http.Request) {
	id, err := a.chat.SetOffline(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optionalID(id))
}

func (a *API) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.chat.CurrentUser(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) Users(w http.ResponseWriter, r *http.Request) {
	users, err := a.chat.Users(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
