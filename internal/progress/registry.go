// Package progress implements the per-dataset ingestion progress registry
// (C3), grounded directly on original_source/src/infra/progress/ingestion_registry.rs:
// the same state shape (status, progress, last message, a capped log ring,
// a cancellation flag) and the same event taxonomy (status/progress/log/
// done/error). The Rust version fans events out over tokio::sync::broadcast;
// this reuses internal/broadcast instead of introducing a second fan-out
// mechanism.
package progress

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/core"
)

const eventBusCapacity = 64

// LogLine is one line in a dataset's capped log ring.
type LogLine struct {
	Line string `json:"line"`
	Ts   int64  `json:"ts"`
}

// Snapshot is the full observable state of one dataset's ingestion
// progress at a point in time.
type Snapshot struct {
	Status      core.DatasetStatus `json:"status"`
	Progress    uint8              `json:"progress"`
	LastMessage string             `json:"lastMessage,omitempty"`
	UpdatedAt   int64              `json:"updatedAt"`
	Logs        []LogLine          `json:"logs"`
}

// Event is one message published on a dataset's event stream. Which
// optional fields are populated depends on Kind: status and done carry
// Status, progress carries Progress and LastMessage, error carries Status
// and LastMessage, log carries Line and Ts; every kind but log carries
// UpdatedAt.
type Event struct {
	Kind        string             `json:"event"` // status|progress|log|done|error
	Status      core.DatasetStatus `json:"status,omitempty"`
	Progress    uint8              `json:"progress,omitempty"`
	LastMessage string             `json:"lastMessage,omitempty"`
	Line        string             `json:"line,omitempty"`
	Ts          int64              `json:"ts,omitempty"`
	UpdatedAt   int64              `json:"updatedAt,omitempty"`
}

type entry struct {
	mu          sync.Mutex
	status      core.DatasetStatus
	progress    uint8
	lastMessage string
	updatedAt   int64
	logs        []LogLine
	logCapacity int

	cancelFlag atomic.Pointer[int32]
}

func newEntry(status core.DatasetStatus, updatedAt int64, logCapacity int) *entry {
	e := &entry{
		status:      status,
		progress:    progressFor(status),
		updatedAt:   updatedAt,
		logCapacity: logCapacity,
	}
	e.installFlag()
	return e
}

func progressFor(status core.DatasetStatus) uint8 {
	if status == core.DatasetReady {
		return 100
	}
	return 0
}

func (e *entry) installFlag() *int32 {
	f := new(int32)
	e.cancelFlag.Store(f)
	return f
}

func (e *entry) cancel() bool {
	f := e.cancelFlag.Load()
	return atomic.CompareAndSwapInt32(f, 0, 1)
}

func (e *entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	logs := make([]LogLine, len(e.logs))
	copy(logs, e.logs)
	return Snapshot{
		Status:      e.status,
		Progress:    e.progress,
		LastMessage: e.lastMessage,
		UpdatedAt:   e.updatedAt,
		Logs:        logs,
	}
}

func (e *entry) resetForIngest(now int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = 0
	e.lastMessage = ""
	e.logs = nil
	e.updatedAt = now
}

func (e *entry) updateStatus(status core.DatasetStatus, lastMessage string, now int64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	if lastMessage != "" {
		e.lastMessage = lastMessage
	}
	if status == core.DatasetReady {
		e.progress = 100
	}
	e.updatedAt = now
	return e.snapshotLocked()
}

func (e *entry) updateProgress(p uint8, lastMessage string, now int64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p > 100 {
		p = 100
	}
	e.progress = p
	if lastMessage != "" {
		e.lastMessage = lastMessage
	}
	e.updatedAt = now
	return e.snapshotLocked()
}

func (e *entry) appendLog(line string, ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logs = append(e.logs, LogLine{Line: line, Ts: ts})
	if len(e.logs) > e.logCapacity {
		e.logs = e.logs[len(e.logs)-e.logCapacity:]
	}
}

func (e *entry) snapshotLocked() Snapshot {
	logs := make([]LogLine, len(e.logs))
	copy(logs, e.logs)
	return Snapshot{
		Status:      e.status,
		Progress:    e.progress,
		LastMessage: e.lastMessage,
		UpdatedAt:   e.updatedAt,
		Logs:        logs,
	}
}

// Registry tracks ingestion progress for many datasets, keyed by dataset
// id.
type Registry struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*entry
	logCapacity int
	events      *broadcast.Bus
}

// New creates a registry whose per-dataset log rings hold logCapacity
// lines.
func New(logCapacity int) *Registry {
	if logCapacity <= 0 {
		logCapacity = 200
	}
	return &Registry{
		entries:     make(map[uuid.UUID]*entry),
		logCapacity: logCapacity,
		events:      broadcast.New(eventBusCapacity),
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (r *Registry) ensureEntry(id uuid.UUID, status core.DatasetStatus, updatedAt int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = newEntry(status, updatedAt, r.logCapacity)
		r.entries[id] = e
	}
	return e
}

// Bootstrap seeds state for a dataset without emitting any event, used
// when loading dataset rows from storage at process start.
func (r *Registry) Bootstrap(id uuid.UUID, status core.DatasetStatus, updatedAt int64, lastMessage string) {
	e := r.ensureEntry(id, status, updatedAt)
	e.mu.Lock()
	e.status = status
	e.updatedAt = updatedAt
	if status == core.DatasetReady {
		e.progress = 100
	}
	e.lastMessage = lastMessage
	e.mu.Unlock()
}

// Handle is the ProgressSink capability set handed to the ingestion
// pipeline for one dataset's run.
type Handle struct {
	datasetID  uuid.UUID
	registry   *Registry
	cancelFlag *int32
}

func (h *Handle) DatasetID() uuid.UUID { return h.datasetID }

func (h *Handle) SetStatus(status core.DatasetStatus, lastMessage string) {
	h.registry.SetStatus(h.datasetID, status, lastMessage)
}

func (h *Handle) SetProgress(progress uint8, lastMessage string) {
	h.registry.SetProgress(h.datasetID, progress, lastMessage)
}

func (h *Handle) AppendLog(line string) {
	h.registry.AppendLog(h.datasetID, line)
}

func (h *Handle) IsCancelled() bool {
	return atomic.LoadInt32(h.cancelFlag) != 0
}

var _ core.ProgressSink = (*Handle)(nil)

// StartIngest resets progress/logs and installs a fresh cancellation flag,
// returning a handle good for one ingestion run.
func (r *Registry) StartIngest(id uuid.UUID, fallback core.DatasetStatus) *Handle {
	e := r.ensureEntry(id, fallback, nowMs())
	e.resetForIngest(nowMs())
	flag := e.installFlag()
	return &Handle{datasetID: id, registry: r, cancelFlag: flag}
}

func (r *Registry) SetStatus(id uuid.UUID, status core.DatasetStatus, lastMessage string) Snapshot {
	e := r.ensureEntry(id, status, nowMs())
	snap := e.updateStatus(status, lastMessage, nowMs())
	r.publish(id, Event{Kind: "status", Status: status, UpdatedAt: snap.UpdatedAt})
	switch status {
	case core.DatasetReady, core.DatasetCanceled:
		r.publish(id, Event{Kind: "done", Status: status, UpdatedAt: snap.UpdatedAt})
	case core.DatasetFailed:
		r.publish(id, Event{Kind: "error", Status: status, LastMessage: snap.LastMessage, UpdatedAt: snap.UpdatedAt})
	}
	return snap
}

func (r *Registry) SetProgress(id uuid.UUID, progress uint8, lastMessage string) Snapshot {
	e := r.ensureEntry(id, core.DatasetRegistered, nowMs())
	snap := e.updateProgress(progress, lastMessage, nowMs())
	r.publish(id, Event{Kind: "progress", Progress: snap.Progress, LastMessage: snap.LastMessage, UpdatedAt: snap.UpdatedAt})
	return snap
}

func (r *Registry) AppendLog(id uuid.UUID, line string) {
	e := r.ensureEntry(id, core.DatasetRegistered, nowMs())
	ts := nowMs()
	e.appendLog(line, ts)
	r.publish(id, Event{Kind: "log", Line: line, Ts: ts})
}

// SnapshotOrDefault returns the current snapshot, seeding state with the
// given fallback if the dataset hasn't been observed yet.
func (r *Registry) SnapshotOrDefault(id uuid.UUID, status core.DatasetStatus, updatedAt int64) Snapshot {
	return r.ensureEntry(id, status, updatedAt).snapshot()
}

// Subscribe returns the current snapshot plus a receiver for subsequent
// events. Per spec.md §6, a fresh subscriber is expected to be replayed
// Status, Progress, then each Log in ring order, then Done/Error if
// terminal — callers build that replay from the returned snapshot before
// consuming the receiver.
func (r *Registry) Subscribe(id uuid.UUID, status core.DatasetStatus, updatedAt int64) (Snapshot, *broadcast.Receiver) {
	e := r.ensureEntry(id, status, updatedAt)
	snap := e.snapshot()
	rx := r.events.Subscribe(id)
	return snap, rx
}

// Cancel flips the dataset's cancellation flag. Idempotent: returns false
// if it was already cancelled.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return e.cancel()
}

// Clear removes all tracked state for a dataset.
func (r *Registry) Clear(id uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *Registry) publish(id uuid.UUID, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.events.Broadcast(id, string(data))
}
