package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/history"
)

type HistoryStore interface {
	Get(ctx context.Context, id uuid.UUID) (*history.Record, error)
	List(ctx context.Context, q history.Query) ([]history.Record, error)
}

type TranscriptionsHandler struct {
	store HistoryStore
}

// NewTranscriptionsHandler serves stored transcriptions. A nil store makes
// every endpoint answer 503.
func NewTranscriptionsHandler(store HistoryStore) *TranscriptionsHandler {
	return &TranscriptionsHandler{store: store}
}

func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeServiceError(w, errDatabaseUnavailable)
		return
	}

	q := history.Query{Language: r.URL.Query().Get("language")}
	var err error
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if q.Language != "" && !config.IsSupportedLanguage(q.Language) {
		writeError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	records, err := h.store.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transcriptions": records, "count": len(records)})
}

// queryInt returns 0 for an absent parameter.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeServiceError(w, errDatabaseUnavailable)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transcription ID")
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
