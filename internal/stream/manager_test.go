package stream

import (
	"testing"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("cam1", "cam1.y4m", "y4m")
	if !ok {
		t.Fatal("Create returned not-ok for new session")
	}
	if s.Key != "cam1" || s.Path != "cam1.y4m" || s.Engine != "y4m" {
		t.Errorf("session: got %+v", s)
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	got, ok := m.Get("cam1")
	if !ok || got != s {
		t.Error("Get should return the created session")
	}
	if _, ok := m.Get("other"); ok {
		t.Error("Get of an unknown key should fail")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("dup", "a.opus", "opus"); !ok {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("dup", "b.opus", "opus")
	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil session")
	}
	if s, _ := m.Get("dup"); s.Path != "a.opus" {
		t.Errorf("duplicate replaced the first session: path %q", s.Path)
	}
}

func TestManagerRemoveClosesDone(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("gone", "x.y4m", "y4m")
	select {
	case <-s.Done():
		t.Fatal("Done closed before Remove")
	default:
	}

	m.Remove("gone")
	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
	if len(m.List()) != 0 {
		t.Errorf("count after remove: got %d, want 0", len(m.List()))
	}
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, k := range []string{"stream-c", "stream-a", "stream-b"} {
		m.Create(k, k+".y4m", "y4m")
	}

	sessions := m.List()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"stream-a", "stream-b", "stream-c"} {
		if sessions[i].Key != want {
			t.Errorf("List()[%d]: got %q, want %q", i, sessions[i].Key, want)
		}
	}
}

func TestManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	m.Remove("nonexistent")
}
