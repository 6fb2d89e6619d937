package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/charlie/internal/observe"
	"github.com/MrWong99/charlie/internal/store"
	"github.com/MrWong99/charlie/internal/voice"
)

// anonymousUser is the user ID of connections that do not name one.
const anonymousUser = "anonymous"

// maxSearchLimit caps the limit parameter of the search endpoint.
const maxSearchLimit = 500

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handleVoice upgrades to the voice WebSocket and blocks until the
// connection ends.
func (a *App) handleVoice(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	release, err := a.sessions.Reserve()
	if err != nil {
		log.Warn("rejecting voice connection", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		// Accept already wrote the error response.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = anonymousUser
	}
	if err := a.sessions.Serve(r.Context(), ws, userID); err != nil {
		log.Warn("voice connection ended with error", "user_id", userID, "err", err)
	}
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   a.sessions.Active(),
		"limit":    a.sessions.Limit(),
		"sessions": a.sessions.Sessions(),
	})
}

type conversationBody struct {
	SessionID string          `json:"session_id"`
	Messages  []voice.Message `json:"messages"`
}

func (a *App) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := observe.WithLogAttrs(r.Context(), "session_id", id)
	msgs, err := a.store.List(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		observe.Logger(ctx).Debug("conversation not found")
		writeError(w, http.StatusNotFound, "conversation not found")
	case err != nil:
		observe.Logger(ctx).Error("list conversation", "err", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation")
	default:
		writeJSON(w, http.StatusOK, conversationBody{SessionID: id, Messages: msgs})
	}
}

type searchBody struct {
	Query   string        `json:"query"`
	Results []store.Entry `json:"results"`
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	opts, err := parseSearchOpts(q.Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := a.store.Search(r.Context(), query, opts)
	if err != nil {
		observe.Logger(r.Context()).Error("search messages", "query", query, "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, searchBody{Query: query, Results: results})
}

// parseSearchOpts reads the optional filters of the search endpoint.
func parseSearchOpts(get func(string) string) (store.SearchOpts, error) {
	opts := store.SearchOpts{
		SessionID: get("session_id"),
		UserID:    get("user_id"),
	}

	switch role := voice.Role(get("role")); role {
	case "", voice.RoleUser, voice.RoleAssistant, voice.RoleSystem:
		opts.Role = role
	default:
		return opts, errors.New("role must be user, assistant or system")
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"after", &opts.After}, {"before", &opts.Before}} {
		v := get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.New(p.name + " must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}

	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSearchLimit {
			return opts, errors.New("limit must be between 1 and " + strconv.Itoa(maxSearchLimit))
		}
		opts.Limit = n
	}
	return opts, nil
}
