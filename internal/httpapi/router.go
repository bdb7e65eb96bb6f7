// Package httpapi is the REST surface for conversation history,
// notifications and presence lookups. It shares the chat and notification
// services with the realtime gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/chat"
	"github.com/admitly/chat-core/internal/identity"
	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/notification"
	"github.com/admitly/chat-core/internal/presence"
)

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (identity.Identity, error)
}

type ctxKey struct{}

// IdentityFrom returns the identity stored by the auth middleware.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(identity.Identity)
	return id, ok
}

// Presence looks up a user's online state. *presence.Tracker implements it.
type Presence interface {
	Get(ctx context.Context, userID string) (*presence.Status, error)
}

// API holds the REST handlers' dependencies.
type API struct {
	auth     Authenticator
	chats    *chat.Service
	notes    *notification.Service
	presence Presence
}

// New creates an API.
func New(auth Authenticator, chats *chat.Service, notes *notification.Service) *API {
	return &API{auth: auth, chats: chats, notes: notes}
}

// SetPresence attaches the presence lookup. Without one every user reports
// offline.
func (a *API) SetPresence(p Presence) {
	a.presence = p
}

// Router builds the mux router for every REST route.
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(instrument)

	chats := router.PathPrefix("/chat").Subrouter()
	chats.Use(a.authenticate)
	chats.HandleFunc("/start", a.startConversation).Methods(http.MethodPost)
	chats.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	chats.HandleFunc("/{conversationId}/messages", a.listMessages).Methods(http.MethodGet)

	notes := router.PathPrefix("/notifications").Subrouter()
	notes.Use(a.authenticate)
	notes.HandleFunc("", a.listNotifications).Methods(http.MethodGet)
	notes.HandleFunc("/unread-count", a.unreadCount).Methods(http.MethodGet)
	notes.HandleFunc("/read-all", a.markAllRead).Methods(http.MethodPatch)
	notes.HandleFunc("/{id}/read", a.markNotificationRead).Methods(http.MethodPatch)

	users := router.PathPrefix("/users").Subrouter()
	users.Use(a.authenticate)
	users.HandleFunc("/{userId}/presence", a.userPresence).Methods(http.MethodGet)

	return router
}

// authenticate requires "Authorization: Bearer <token>" and stores the
// resulting identity on the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := identity.ExtractCredential("", r.Header.Get("Authorization"))
		id, err := a.auth.Authenticate(r.Context(), cred)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
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

// instrument records request latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// writeError maps err to its status and a {message} body. Unclassified
// errors are logged and reported as "internal error".
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("httpapi: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Message: apperr.Message(err)})
}
