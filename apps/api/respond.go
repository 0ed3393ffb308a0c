package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type idResponse struct {
	ID *string `json:"id"`
}

func optionalID(id string) idResponse {
	if id == "" {
		return idResponse{}
	}
	return idResponse{ID: &id}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// maxBodyBytes caps every request body.
const maxBodyBytes = 64 << 10

// decode reads a JSON request body into v. On failure it writes the error
// response and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "too_large", Message: "request body too large"})
		return false
	}
	badRequest(w, "invalid request body")
	return false
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{chat.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{chat.ErrNotFound, http.StatusNotFound, "not_found"},
	{chat.ErrNotAMember, http.StatusForbidden, "not_a_member"},
	{chat.ErrIdentityMismatch, http.StatusForbidden, "identity_mismatch"},
	{chat.ErrSelfConversation, http.StatusBadRequest, "self_conversation"},
	{chat.ErrNoReceiver, http.StatusConflict, "no_receiver"},
	{chat.ErrEmptyBody, http.StatusBadRequest, "empty_body"},
}

// fail writes the error response for err. Domain errors keep their message;
// anything else is logged and hidden behind a 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("request denied")
			writeJSON(w, e.status, errorResponse{Error: e.code, Message: err.Error()})
			return
		}
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
