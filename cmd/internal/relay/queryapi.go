package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// QueryAPI exposes read-only conversation history over HTTP.
//
// The recent endpoint serves the hot cache (bounded window, cheap). The
// history endpoint serves the archive with a before-cursor so clients can
// page backward past the cache window.
type QueryAPI struct {
	log     *slog.Logger
	cache   *ConversationCache
	archive Archive

	storeTimeout time.Duration
}

func NewQueryAPI(log *slog.Logger, cache *ConversationCache, archive Archive, storeTimeout time.Duration) *QueryAPI {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &QueryAPI{log: log, cache: cache, archive: archive, storeTimeout: storeTimeout}
}

// Register mounts the query endpoints on mux.
func (q *QueryAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages/recent", q.handleRecent)
	mux.HandleFunc("/api/messages/history", q.handleHistory)
}

// handleRecent serves the cached window for one conversation key.
// GET /api/messages/recent?key=<conversationKey>
func (q *QueryAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "missing key")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), q.storeTimeout)
	defer cancel()

	msgs, err := q.cache.Recent(ctx, key)
	if err != nil {
		q.log.Error("query.recent.fail", "key", key, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationKey": key,
		"messages":        messagesOrEmpty(msgs),
	})
}

// handleHistory serves archived messages strictly older than the cursor.
// GET /api/messages/history?key=<conversationKey>&before=<RFC3339>&limit=<n>
//
// before defaults to now; limit defaults to 30, capped at 100.
func (q *QueryAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	qs := r.URL.Query()

	key := strings.TrimSpace(qs.Get("key"))
	if key == "" {
		writeJSONError(w, http.StatusBadRequest, "missing key")
		return
	}

	before := time.Now().UTC()
	if raw := strings.TrimSpace(qs.Get("before")); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid before: want RFC3339")
			return
		}
		before = t.UTC()
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(qs.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), q.storeTimeout)
	defer cancel()

	msgs, err := q.archive.HistoryBefore(ctx, key, before, limit)
	if err != nil {
		q.log.Error("query.history.fail", "key", key, "before", before, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}

	resp := map[string]any{
		"conversationKey": key,
		"messages":        messagesOrEmpty(msgs),
	}
	if len(msgs) > 0 {
		// Next page cursor: the oldest message returned.
		resp["nextBefore"] = msgs[0].Timestamp.UTC().Format(time.RFC3339Nano)
	}

	writeJSON(w, http.StatusOK, resp)
}

func messagesOrEmpty(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
