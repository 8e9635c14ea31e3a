// Package hub implements the session broadcast hub: the single writer to the
// note store and the fan-out point for every board mutation.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/models"
	"github.com/starford/wunjo/internal/store"
)

// Event names on the wire.
const (
	EventLoadNotes  = "loadNotes"
	EventTotalCost  = "totalCost"
	EventNewNote    = "newNote"
	EventUpdateNote = "updateNote"
	EventDeleteNote = "deleteNote"
	EventErrorNote  = "errorNote"
)

// Envelope is the JSON frame exchanged with sessions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorData is the payload of an errorNote frame, delivered only to the
// session whose mutation was rejected.
type ErrorData struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// Session is one connected client's handle on the hub. Frames for the client
// arrive on the channel returned by Out.
type Session struct {
	id  string
	out chan []byte
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Out returns the channel of marshaled frames destined for this session.
// The hub closes it when the session leaves or the hub shuts down.
func (s *Session) Out() <-chan []byte { return s.out }

// mutation is one queued board change. origin is nil for server-originated
// mutations (e.g. MCP tools), which have no session to report errors to.
type mutation struct {
	event  string
	note   models.Note
	id     string
	origin *Session
	done   chan error
}

// Hub manages the set of connected sessions and serializes all mutations.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable
// state (the session set). Public methods communicate with this loop through
// channels, so no mutexes are required, and every mutation's store write,
// event fan-out, and aggregate fan-out complete in program order before the
// next mutation is applied.
type Hub struct {
	notes  store.NoteStore
	logger *slog.Logger
	buffer int

	joinCh     chan *Session
	leaveCh    chan *Session
	mutateCh   chan mutation
	countReqCh chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New creates a hub over the given store and starts its event loop.
// sessionBuffer is the per-session outbound frame buffer; frames beyond it
// are dropped rather than blocking the loop.
func New(notes store.NoteStore, logger *slog.Logger, sessionBuffer int) *Hub {
	if sessionBuffer <= 0 {
		sessionBuffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		notes:      notes,
		logger:     logger,
		buffer:     sessionBuffer,
		joinCh:     make(chan *Session),
		leaveCh:    make(chan *Session),
		mutateCh:   make(chan mutation, 256),
		countReqCh: make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)

	sessions := make(map[*Session]struct{})

	send := func(s *Session, frame []byte) {
		select {
		case s.out <- frame:
		default:
			// Session buffer full; skip to avoid blocking the hub loop.
		}
	}

	broadcast := func(event string, data any) {
		frame, err := json.Marshal(Envelope{Event: event, Data: data})
		if err != nil {
			return
		}
		for s := range sessions {
			send(s, frame)
		}
	}

	for {
		select {
		case <-h.stopCh:
			for s := range sessions {
				close(s.out)
			}
			return

		case s := <-h.joinCh:
			// Snapshot before the session enters the fan-out set, inside
			// the same loop that applies mutations: the session sees every
			// mutation ordered after its snapshot exactly once.
			h.sendSnapshot(s, send)
			sessions[s] = struct{}{}

		case s := <-h.leaveCh:
			if _, ok := sessions[s]; ok {
				delete(sessions, s)
				close(s.out)
			}

		case m := <-h.mutateCh:
			h.apply(m, send, broadcast)

		case resp := <-h.countReqCh:
			resp <- len(sessions)
		}
	}
}

// sendSnapshot queues the full note collection and the current aggregate on
// a joining session's buffer.
func (h *Hub) sendSnapshot(s *Session, send func(*Session, []byte)) {
	notes, err := h.notes.ListAll()
	if err != nil {
		h.logger.Error("snapshot failed", slog.String("session", s.id), slog.String("error", err.Error()))
		notes = []models.Note{}
	}
	if frame, err := json.Marshal(Envelope{Event: EventLoadNotes, Data: notes}); err == nil {
		send(s, frame)
	}
	total, err := h.notes.SumCost()
	if err != nil {
		h.logger.Error("aggregate query failed", slog.String("error", err.Error()))
		return
	}
	if frame, err := json.Marshal(Envelope{Event: EventTotalCost, Data: total}); err == nil {
		send(s, frame)
	}
}

// apply runs one mutation to completion: validate, normalize, persist,
// broadcast the event, then recompute and broadcast the aggregate. A failure
// is scoped to this mutation: nothing is broadcast and only the originator
// is told.
func (h *Hub) apply(m mutation, send func(*Session, []byte), broadcast func(string, any)) {
	err := h.applyToStore(&m)
	if err != nil {
		h.logger.Warn("mutation rejected",
			slog.String("event", m.event),
			slog.String("id", m.id),
			slog.String("error", err.Error()))
		h.rejectMutation(m, err, send)
		if m.done != nil {
			m.done <- err
		}
		return
	}

	switch m.event {
	case EventDeleteNote:
		broadcast(EventDeleteNote, m.id)
	default:
		broadcast(m.event, m.note)
	}

	if total, err := h.notes.SumCost(); err != nil {
		h.logger.Error("aggregate query failed", slog.String("error", err.Error()))
	} else {
		broadcast(EventTotalCost, total)
	}

	if m.done != nil {
		m.done <- nil
	}
}

// applyToStore validates and persists one mutation, normalizing the payload
// in place so the broadcast carries the same record the store now holds.
func (h *Hub) applyToStore(m *mutation) error {
	switch m.event {
	case EventNewNote, EventUpdateNote:
		if err := m.note.Validate(); err != nil {
			return apperr.ErrInvalidPayload
		}
		m.note = m.note.Normalize()
		m.id = m.note.ID
		if m.event == EventNewNote {
			return h.notes.Insert(m.note)
		}
		return h.notes.Replace(m.note.ID, m.note)
	case EventDeleteNote:
		if m.id == "" {
			return apperr.ErrInvalidPayload
		}
		return h.notes.Delete(m.id)
	default:
		return apperr.ErrInvalidPayload
	}
}

// rejectMutation reports a failed mutation to its originating session only.
func (h *Hub) rejectMutation(m mutation, cause error, send func(*Session, []byte)) {
	if m.origin == nil {
		return
	}
	data := ErrorData{Event: m.event, ID: m.id, Error: reason(cause)}
	if frame, err := json.Marshal(Envelope{Event: EventErrorNote, Data: data}); err == nil {
		send(m.origin, frame)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidPayload):
		return "invalid payload"
	case errors.Is(err, apperr.ErrDuplicateKey):
		return "duplicate id"
	case errors.Is(err, apperr.ErrNotFound):
		return "not found"
	default:
		return "store unavailable"
	}
}

// Join registers a new session. Its first frames are the loadNotes snapshot
// and the current totalCost.
func (h *Hub) Join() *Session {
	s := &Session{id: uuid.NewString(), out: make(chan []byte, h.buffer)}
	if h.closed.Load() {
		close(s.out)
		return s
	}
	select {
	case h.joinCh <- s:
	case <-h.stopped:
		close(s.out)
	}
	return s
}

// Leave removes a session from the fan-out set and closes its channel.
// The store is unaffected; sessions own no notes.
func (h *Hub) Leave(s *Session) {
	if h.closed.Load() {
		return
	}
	select {
	case h.leaveCh <- s:
	case <-h.stopped:
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	if h.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case h.countReqCh <- resp:
	case <-h.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-h.stopped:
		return 0
	}
}

// SubmitNote queues a newNote or updateNote mutation from origin (nil for
// server-originated mutations). Fire-and-forget.
func (h *Hub) SubmitNote(origin *Session, event string, note models.Note) {
	h.submit(mutation{event: event, note: note, origin: origin})
}

// SubmitDelete queues a deleteNote mutation. Fire-and-forget.
func (h *Hub) SubmitDelete(origin *Session, id string) {
	h.submit(mutation{event: EventDeleteNote, id: id, origin: origin})
}

// SubmitNoteWait is SubmitNote but blocks until the mutation has been applied,
// returning its outcome. Used by callers that need a result (MCP tools).
func (h *Hub) SubmitNoteWait(event string, note models.Note) error {
	return h.submitWait(mutation{event: event, note: note})
}

// SubmitDeleteWait is SubmitDelete but blocks until the mutation has been applied.
func (h *Hub) SubmitDeleteWait(id string) error {
	return h.submitWait(mutation{event: EventDeleteNote, id: id})
}

func (h *Hub) submit(m mutation) {
	if h.closed.Load() {
		return
	}
	select {
	case h.mutateCh <- m:
	case <-h.stopped:
	}
}

func (h *Hub) submitWait(m mutation) error {
	if h.closed.Load() {
		return apperr.ErrStoreUnavailable
	}
	m.done = make(chan error, 1)
	select {
	case h.mutateCh <- m:
	case <-h.stopped:
		return apperr.ErrStoreUnavailable
	}
	select {
	case err := <-m.done:
		return err
	case <-h.stopped:
		return apperr.ErrStoreUnavailable
	}
}

// Close gracefully stops the hub loop and closes all session channels.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.stopCh)
	}
	<-h.stopped
}
