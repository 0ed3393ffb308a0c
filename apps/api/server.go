package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mahaj/convoflow/pkg/auth"
	"github.com/mahaj/convoflow/pkg/chat"
	"github.com/rs/zerolog"
)

type API struct {
	chat   *chat.Service
	issuer *auth.Issuer
	log    zerolog.Logger
}

func NewAPI(svc *chat.Service, issuer *auth.Issuer, log zerolog.Logger) *API {
	return &API{chat: svc, issuer: issuer, log: log}
}

// NewRouter wires every route. /login is only mounted when devLogin is set.
func NewRouter(a *API, verifier *auth.Verifier, devLogin bool) http.Handler {
	r := mux.NewRouter()
	r.Use(a.RequestLogger)

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	if devLogin && a.issuer != nil {
		r.HandleFunc("/login", a.Login).Methods(http.MethodPost)
	}

	p := r.NewRoute().Subrouter()
	p.Use(auth.Middleware(verifier))

	p.HandleFunc("/users/sync", a.SyncUser).Methods(http.MethodPost)
	p.HandleFunc("/users/online", a.SetOnline).Methods(http.MethodPost)
	p.HandleFunc("/users/offline", a.SetOffline).Methods(http.MethodPost)
	p.HandleFunc("/users/me", a.CurrentUser).Methods(http.MethodGet)
	p.HandleFunc("/users", a.Users).Methods(http.MethodGet)
	p.HandleFunc("/users/{id}/unread", a.UnreadCounts).Methods(http.MethodGet)

	p.HandleFunc("/conversations", a.UserConversations).Methods(http.MethodGet)
	p.HandleFunc("/conversations", a.GetOrCreateConversation).Methods(http.MethodPost)
	p.HandleFunc("/conversations/with/{otherUserId}", a.ConversationByMembers).Methods(http.MethodGet)
	p.HandleFunc("/conversations/{id}/messages", a.Messages).Methods(http.MethodGet)
	p.HandleFunc("/conversations/{id}/messages", a.SendMessage).Methods(http.MethodPost)
	p.HandleFunc("/conversations/{id}/read", a.MarkRead).Methods(http.MethodPost)

	p.HandleFunc("/presence", a.UpdatePresence).Methods(http.MethodPost)
	p.HandleFunc("/presence/{userId}", a.UserPresence).Methods(http.MethodGet)
	p.HandleFunc("/typing", a.UpdateTyping).Methods(http.MethodPost)

	return CORSMiddleware(r)
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags each request with an id and attaches a child logger to
// its context.
func (a *API) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		log := a.log.With().Str("request_id", reqID).Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(log.WithContext(r.Context())))

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
