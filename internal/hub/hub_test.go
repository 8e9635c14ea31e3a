package hub

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/models"
	"github.com/starford/wunjo/internal/store"
)

// fakeStore is an in-memory store.NoteStore for hub tests.
type fakeStore struct {
	mu    sync.Mutex
	order []string
	notes map[string]models.Note
}

var _ store.NoteStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{notes: make(map[string]models.Note)}
}

func (f *fakeStore) ListAll() ([]models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Note, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.notes[id])
	}
	return out, nil
}

func (f *fakeStore) Get(id string) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &n, nil
}

func (f *fakeStore) Insert(n models.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notes[n.ID]; ok {
		return apperr.ErrDuplicateKey
	}
	f.notes[n.ID] = n
	f.order = append(f.order, n.ID)
	return nil
}

func (f *fakeStore) Replace(id string, n models.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notes[id]; ok {
		f.notes[id] = n
	}
	return nil
}

func (f *fakeStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notes[id]; !ok {
		return nil
	}
	delete(f.notes, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) SumCost() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, n := range f.notes {
		total += n.Cost
	}
	return total, nil
}

func (f *fakeStore) Close() error { return nil }

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func nextFrame(t *testing.T, s *Session) frame {
	t.Helper()
	select {
	case raw, ok := <-s.Out():
		if !ok {
			t.Fatal("session channel closed")
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return frame{}
}

func expectNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case raw := <-s.Out():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// drainJoin consumes the loadNotes + totalCost frames every new session gets.
func drainJoin(t *testing.T, s *Session) {
	t.Helper()
	if f := nextFrame(t, s); f.Event != EventLoadNotes {
		t.Fatalf("first frame = %q, want loadNotes", f.Event)
	}
	if f := nextFrame(t, s); f.Event != EventTotalCost {
		t.Fatalf("second frame = %q, want totalCost", f.Event)
	}
}

func TestJoinReceivesSnapshotAndTotal(t *testing.T) {
	fs := newFakeStore()
	_ = fs.Insert(models.Note{ID: "a", Cost: 5, Category: "other"})
	_ = fs.Insert(models.Note{ID: "b", Cost: 2.5, Category: "food"})

	h := New(fs, nil, 0)
	defer h.Close()

	s := h.Join()
	defer h.Leave(s)

	f := nextFrame(t, s)
	if f.Event != EventLoadNotes {
		t.Fatalf("first frame = %q, want loadNotes", f.Event)
	}
	var notes []models.Note
	if err := json.Unmarshal(f.Data, &notes); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != "a" || notes[1].ID != "b" {
		t.Errorf("snapshot = %+v, want notes a,b", notes)
	}

	f = nextFrame(t, s)
	if f.Event != EventTotalCost {
		t.Fatalf("second frame = %q, want totalCost", f.Event)
	}
	var total float64
	_ = json.Unmarshal(f.Data, &total)
	if total != 7.5 {
		t.Errorf("total = %v, want 7.5", total)
	}
}

func TestNewNoteFansOutToAllSessions(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	a := h.Join()
	b := h.Join()
	drainJoin(t, a)
	drainJoin(t, b)

	h.SubmitNote(a, EventNewNote, models.Note{ID: "n1", Cost: 3, X: 10, Y: 20})

	for _, s := range []*Session{a, b} {
		f := nextFrame(t, s)
		if f.Event != EventNewNote {
			t.Fatalf("frame = %q, want newNote", f.Event)
		}
		var n models.Note
		_ = json.Unmarshal(f.Data, &n)
		if n.ID != "n1" || n.Cost != 3 || n.X != 10 || n.Y != 20 {
			t.Errorf("note = %+v", n)
		}
		// Broadcast carries the normalized record.
		if n.Category != "other" || n.ZIndex != 1 {
			t.Errorf("broadcast not normalized: %+v", n)
		}

		f = nextFrame(t, s)
		if f.Event != EventTotalCost {
			t.Fatalf("frame = %q, want totalCost", f.Event)
		}
		var total float64
		_ = json.Unmarshal(f.Data, &total)
		if total != 3 {
			t.Errorf("total = %v, want 3", total)
		}
	}
}

func TestTotalCostTracksRandomizedMutations(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 256)
	defer h.Close()

	s := h.Join()
	drainJoin(t, s)

	rng := rand.New(rand.NewSource(1))
	live := []string{}
	for i := 0; i < 50; i++ {
		switch {
		case len(live) == 0 || rng.Intn(3) == 0:
			id := fmt.Sprintf("n%d", i)
			if err := h.SubmitNoteWait(EventNewNote, models.Note{ID: id, Cost: float64(rng.Intn(100))}); err != nil {
				t.Fatalf("new %s: %v", id, err)
			}
			live = append(live, id)
		case rng.Intn(2) == 0:
			id := live[rng.Intn(len(live))]
			if err := h.SubmitNoteWait(EventUpdateNote, models.Note{ID: id, Cost: float64(rng.Intn(100))}); err != nil {
				t.Fatalf("update %s: %v", id, err)
			}
		default:
			j := rng.Intn(len(live))
			id := live[j]
			if err := h.SubmitDeleteWait(id); err != nil {
				t.Fatalf("delete %s: %v", id, err)
			}
			live = append(live[:j], live[j+1:]...)
		}

		// Mutation frame, then the aggregate that must match the store.
		_ = nextFrame(t, s)
		f := nextFrame(t, s)
		if f.Event != EventTotalCost {
			t.Fatalf("frame = %q, want totalCost", f.Event)
		}
		var total float64
		_ = json.Unmarshal(f.Data, &total)
		want, _ := fs.SumCost()
		if total != want {
			t.Fatalf("step %d: total = %v, store sum = %v", i, total, want)
		}
	}
}

func TestSnapshotEqualsStoreAfterMutations(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	_ = h.SubmitNoteWait(EventNewNote, models.Note{ID: "a", Cost: 1})
	_ = h.SubmitNoteWait(EventNewNote, models.Note{ID: "b", Cost: 2})
	_ = h.SubmitNoteWait(EventUpdateNote, models.Note{ID: "a", Cost: 9})
	_ = h.SubmitDeleteWait("b")

	s := h.Join()
	defer h.Leave(s)

	f := nextFrame(t, s)
	var got []models.Note
	_ = json.Unmarshal(f.Data, &got)

	want, _ := fs.ListAll()
	if len(got) != len(want) {
		t.Fatalf("snapshot has %d notes, store has %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Cost != want[i].Cost {
			t.Errorf("snapshot[%d] = %+v, store = %+v", i, got[i], want[i])
		}
	}
}

func TestDeleteNonexistentStillBroadcasts(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	s := h.Join()
	drainJoin(t, s)

	h.SubmitDelete(s, "ghost")

	f := nextFrame(t, s)
	if f.Event != EventDeleteNote {
		t.Fatalf("frame = %q, want deleteNote", f.Event)
	}
	var id string
	_ = json.Unmarshal(f.Data, &id)
	if id != "ghost" {
		t.Errorf("id = %q, want ghost", id)
	}

	f = nextFrame(t, s)
	if f.Event != EventTotalCost {
		t.Fatalf("frame = %q, want totalCost", f.Event)
	}
	expectNoFrame(t, s)
}

func TestInvalidPayloadRejectedToOriginOnly(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	a := h.Join()
	b := h.Join()
	drainJoin(t, a)
	drainJoin(t, b)

	h.SubmitNote(a, EventNewNote, models.Note{Content: "no id"})

	f := nextFrame(t, a)
	if f.Event != EventErrorNote {
		t.Fatalf("origin frame = %q, want errorNote", f.Event)
	}
	var ed ErrorData
	_ = json.Unmarshal(f.Data, &ed)
	if ed.Event != EventNewNote || ed.Error != "invalid payload" {
		t.Errorf("error data = %+v", ed)
	}

	expectNoFrame(t, b)
	if notes, _ := fs.ListAll(); len(notes) != 0 {
		t.Errorf("store mutated by invalid payload: %+v", notes)
	}
}

func TestDuplicateInsertRejected(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	a := h.Join()
	b := h.Join()
	drainJoin(t, a)
	drainJoin(t, b)

	if err := h.SubmitNoteWait(EventNewNote, models.Note{ID: "dup", Cost: 1}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Both sessions see the first insert.
	for _, s := range []*Session{a, b} {
		_ = nextFrame(t, s)
		_ = nextFrame(t, s)
	}

	h.SubmitNote(a, EventNewNote, models.Note{ID: "dup", Cost: 99})

	f := nextFrame(t, a)
	if f.Event != EventErrorNote {
		t.Fatalf("origin frame = %q, want errorNote", f.Event)
	}
	var ed ErrorData
	_ = json.Unmarshal(f.Data, &ed)
	if ed.ID != "dup" || ed.Error != "duplicate id" {
		t.Errorf("error data = %+v", ed)
	}

	expectNoFrame(t, b)
	if total, _ := fs.SumCost(); total != 1 {
		t.Errorf("aggregate changed by rejected insert: %v", total)
	}
}

func TestConcurrentMutationsBothApply(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 256)
	defer h.Close()

	s := h.Join()
	drainJoin(t, s)

	var wg sync.WaitGroup
	for _, n := range []models.Note{{ID: "left", Cost: 10}, {ID: "right", Cost: 20}} {
		wg.Add(1)
		go func(n models.Note) {
			defer wg.Done()
			if err := h.SubmitNoteWait(EventNewNote, n); err != nil {
				t.Errorf("insert %s: %v", n.ID, err)
			}
		}(n)
	}
	wg.Wait()

	// Two newNote broadcasts and two totalCost broadcasts, in some order of
	// note arrival; the final totalCost must reflect both.
	var lastTotal float64
	newNotes := 0
	for i := 0; i < 4; i++ {
		f := nextFrame(t, s)
		switch f.Event {
		case EventNewNote:
			newNotes++
		case EventTotalCost:
			_ = json.Unmarshal(f.Data, &lastTotal)
		default:
			t.Fatalf("unexpected frame %q", f.Event)
		}
	}
	if newNotes != 2 {
		t.Errorf("newNote broadcasts = %d, want 2", newNotes)
	}
	if lastTotal != 30 {
		t.Errorf("final total = %v, want 30", lastTotal)
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)
	defer h.Close()

	s := h.Join()
	drainJoin(t, s)
	h.Leave(s)

	if h.SessionCount() != 0 {
		t.Fatalf("session count = %d, want 0", h.SessionCount())
	}
	select {
	case _, ok := <-s.Out():
		if ok {
			t.Fatal("expected closed channel after leave")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestCloseClosesSessions(t *testing.T) {
	fs := newFakeStore()
	h := New(fs, nil, 0)

	s := h.Join()
	drainJoin(t, s)
	h.Close()

	select {
	case _, ok := <-s.Out():
		if ok {
			t.Fatal("expected closed channel after hub close")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	// Safe no-ops after close.
	h.SubmitDelete(nil, "x")
	if err := h.SubmitDeleteWait("x"); err == nil {
		t.Error("submitWait after close should fail")
	}
	if h.SessionCount() != 0 {
		t.Error("session count after close should be 0")
	}
}
