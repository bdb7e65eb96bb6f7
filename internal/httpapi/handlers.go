package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/admitly/chat-core/internal/apperr"
	"github.com/admitly/chat-core/internal/pagination"
)

type startRequest struct {
	ParticipantUserID  string `json:"participantUserId"`
	RelatedApplication string `json:"relatedApplication"`
}

func pageParams(r *http.Request) pagination.Params {
	q := r.URL.Query()
	return pagination.Parse(q.Get("page"), q.Get("limit"))
}

func (a *API) startConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.New(apperr.ErrInvalidRequest, "invalid request body"))
		return
	}

	conv, _, err := a.chats.StartOrGet(r.Context(), id.UserID, req.ParticipantUserID, req.RelatedApplication)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	page, err := a.chats.ListForUser(r.Context(), id.UserID, pageParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	convID := mux.Vars(r)["conversationId"]

	if _, err := a.chats.GetForParticipant(r.Context(), convID, id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	page, err := a.chats.ListForConversation(r.Context(), convID, pageParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	page, err := a.notes.Page(r.Context(), id.UserID, pageParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	n, err := a.notes.MarkRead(r.Context(), id.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n == nil {
		writeError(w, r, apperr.New(apperr.ErrNotFound, "notification not found"))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	n, err := a.notes.UnreadCount(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	n, err := a.notes.MarkAllRead(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

type presenceResponse struct {
	UserID     string `json:"userId"`
	Online     bool   `json:"online"`
	LastActive int64  `json:"lastActive,omitempty"`
}

func (a *API) userPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	resp := presenceResponse{UserID: userID}

	if a.presence != nil {
		st, err := a.presence.Get(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Online = st.Online()
		if st != nil {
			resp.LastActive = st.LastActive
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
