package progress

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/core"
)

func TestStartIngestResetsState(t *testing.T) {
	r := New(8)
	id := uuid.New()

	r.SetProgress(id, 50, "halfway")
	h := r.StartIngest(id, core.DatasetRegistered)
	snap := r.SnapshotOrDefault(id, core.DatasetRegistered, 0)
	if snap.Progress != 0 {
		t.Errorf("progress = %d, want 0 after StartIngest", snap.Progress)
	}
	if h.IsCancelled() {
		t.Error("fresh handle should not be cancelled")
	}
}

func TestSetStatusEmitsDoneOnReady(t *testing.T) {
	r := New(8)
	id := uuid.New()
	r.Bootstrap(id, core.DatasetIngesting, 0, "")

	_, rx := r.Subscribe(id, core.DatasetIngesting, 0)
	r.SetStatus(id, core.DatasetReady, "complete")

	ctx := context.Background()
	ev, err := rx.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Message == "" {
		t.Fatal("expected a status event message")
	}

	ev2, err := rx.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev2.Message == "" {
		t.Fatal("expected a done event to follow the status event on READY")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	r := New(8)
	id := uuid.New()
	r.StartIngest(id, core.DatasetRegistered)

	if !r.Cancel(id) {
		t.Fatal("first cancel should succeed")
	}
	if r.Cancel(id) {
		t.Fatal("second cancel should report already-cancelled")
	}
}

func TestHandleReflectsCancellation(t *testing.T) {
	r := New(8)
	id := uuid.New()
	h := r.StartIngest(id, core.DatasetRegistered)

	r.Cancel(id)
	if !h.IsCancelled() {
		t.Fatal("handle issued before cancel should observe it afterwards")
	}
}

func TestAppendLogCapsAtCapacity(t *testing.T) {
	r := New(3)
	id := uuid.New()
	r.StartIngest(id, core.DatasetRegistered)

	for i := 0; i < 5; i++ {
		r.AppendLog(id, string(rune('a'+i)))
	}
	snap := r.SnapshotOrDefault(id, core.DatasetRegistered, 0)
	if len(snap.Logs) != 3 {
		t.Fatalf("logs = %d, want capped at 3", len(snap.Logs))
	}
	if snap.Logs[len(snap.Logs)-1].Line != "e" {
		t.Errorf("last log = %q, want %q", snap.Logs[len(snap.Logs)-1].Line, "e")
	}
}

func TestCancelUnknownDatasetReturnsFalse(t *testing.T) {
	r := New(8)
	if r.Cancel(uuid.New()) {
		t.Fatal("cancelling an untracked dataset should report false")
	}
}
