package ingest

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/franz/mediabin/internal/content"
)

// Progress is the latest known transfer state of one artifact
type Progress struct {
	ID        string
	Kind      content.Kind
	Bytes     int64
	Total     int64 // 0 when unknown
	Done      bool
	UpdatedAt time.Time
}

type progressKey struct {
	id   string
	kind content.Kind
}

// Tracker collects transfer progress off the ingest path. Updates go
// through a bounded channel to one consumer; when the channel is full an
// update is dropped, which is harmless because each carries a running
// total. Progress never reaches the ledger.
type Tracker struct {
	updates  chan Progress
	mu       sync.Mutex
	state    map[progressKey]Progress
	onUpdate func(Progress)
	done     chan struct{}
	once     sync.Once
}

// NewTracker starts a tracker. onUpdate, if set, runs on the consumer
// goroutine for every accepted update.
func NewTracker(bufferSize int, onUpdate func(Progress)) *Tracker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	t := &Tracker{
		updates:  make(chan Progress, bufferSize),
		state:    make(map[progressKey]Progress),
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Tracker) run() {
	defer close(t.done)
	for p := range t.updates {
		t.mu.Lock()
		key := progressKey{p.ID, p.Kind}
		// a late dropped-then-resent update must not move progress backwards
		if prev, ok := t.state[key]; !ok || p.Done || p.Bytes >= prev.Bytes {
			t.state[key] = p
		}
		t.mu.Unlock()
		if t.onUpdate != nil {
			t.onUpdate(p)
		}
	}
}

// Report submits an update without blocking. Final updates (Done) block
// so they are never lost.
func (t *Tracker) Report(p Progress) {
	if t == nil {
		return
	}
	p.UpdatedAt = time.Now()
	if p.Done {
		t.updates <- p
		return
	}
	select {
	case t.updates <- p:
	default:
	}
}

// Reader wraps r so every read reports the running byte count
func (t *Tracker) Reader(id string, kind content.Kind, r io.Reader, total int64) io.Reader {
	if t == nil {
		return r
	}
	return &progressReader{tracker: t, r: r, p: Progress{ID: id, Kind: kind, Total: total}}
}

// Snapshot returns the current progress of every tracked artifact,
// ordered by id then kind
func (t *Tracker) Snapshot() []Progress {
	t.mu.Lock()
	out := make([]Progress, 0, len(t.state))
	for _, p := range t.state {
		out = append(out, p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Close stops the consumer after draining queued updates
func (t *Tracker) Close() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.updates) })
	<-t.done
}

type progressReader struct {
	tracker *Tracker
	r       io.Reader
	p       Progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.p.Bytes += int64(n)
	if err == io.EOF {
		pr.p.Done = true
	}
	if n > 0 || pr.p.Done {
		pr.tracker.Report(pr.p)
	}
	return n, err
}
