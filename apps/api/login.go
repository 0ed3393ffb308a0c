package main

import (
	"net/http"

	"github.com/mahaj/convoflow/pkg/auth"
)

type LoginRequest struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// Login issues a signed token for any subject. It stands in for the hosted
// identity provider during development.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Subject == "" {
		badRequest(w, "subject is required")
		return
	}

	token, err := a.issuer.GenerateToken(auth.Identity{
		Subject: req.Subject,
		Name:    req.Name,
		Email:   req.Email,
		Picture: req.Picture,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}
