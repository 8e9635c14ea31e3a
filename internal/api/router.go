// Package api implements the Wunjo HTTP surface using chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/wunjo/internal/store"
)

// NewRouter creates a chi router with the export endpoint mounted.
// wsHandler, if non-nil, is mounted at GET /ws.
func NewRouter(notes store.NoteStore, wsHandler http.Handler) chi.Router {
	h := NewHandler(notes)

	r := chi.NewRouter()

	// Calendar export.
	r.Get("/export/ical/{noteID}", h.ExportICal)

	// Websocket sessions.
	if wsHandler != nil {
		r.Get("/ws", wsHandler.ServeHTTP)
	}

	return r
}
