package orderid

import (
	"testing"

	"github.com/google/uuid"
)

func TestEnsureMappingIsStableAndIncrementing(t *testing.T) {
	m := New()
	session := uuid.New()
	o1, o2 := uuid.New(), uuid.New()

	n1 := m.EnsureMapping(session, o1)
	n2 := m.EnsureMapping(session, o2)
	if n1 != 1 || n2 != 2 {
		t.Fatalf("got n1=%d n2=%d, want 1 and 2", n1, n2)
	}

	if again := m.EnsureMapping(session, o1); again != n1 {
		t.Fatalf("re-mapping same order changed id: %d != %d", again, n1)
	}
}

func TestCountersArePerSession(t *testing.T) {
	m := New()
	s1, s2 := uuid.New(), uuid.New()
	o := uuid.New()

	n1 := m.EnsureMapping(s1, o)
	n2 := m.EnsureMapping(s2, o)
	if n1 != 1 || n2 != 1 {
		t.Fatalf("expected independent counters per session, got %d and %d", n1, n2)
	}
}

func TestResolveUUIDRoundTrip(t *testing.T) {
	m := New()
	session := uuid.New()
	order := uuid.New()

	numeric := m.EnsureMapping(session, order)
	resolved, ok := m.ResolveUUID(session, numeric)
	if !ok || resolved != order {
		t.Fatalf("resolved=%v ok=%v, want %v true", resolved, ok, order)
	}
}

func TestGetNumericUnknownOrder(t *testing.T) {
	m := New()
	if _, ok := m.GetNumeric(uuid.New(), uuid.New()); ok {
		t.Fatal("expected ok=false for unmapped order")
	}
}

func TestResolveUUIDUnknownNumeric(t *testing.T) {
	m := New()
	if _, ok := m.ResolveUUID(uuid.New(), 999); ok {
		t.Fatal("expected ok=false for unknown numeric id")
	}
}
