package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/ical"
	"github.com/starford/wunjo/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	notes store.NoteStore
}

// NewHandler creates a new Handler.
func NewHandler(notes store.NoteStore) *Handler {
	return &Handler{notes: notes}
}

// ExportICal handles GET /export/ical/{noteID}: renders the note's date
// range as a downloadable single-event iCalendar document.
func (h *Handler) ExportICal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "noteID")

	note, err := h.notes.Get(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.Error(w, "note not found", http.StatusNotFound)
			return
		}
		slog.Error("export lookup failed", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	doc, err := ical.Build(*note)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidPayload) {
			http.Error(w, "note has no start date", http.StatusBadRequest)
			return
		}
		slog.Error("export build failed", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "evento-"+id+".ics"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
