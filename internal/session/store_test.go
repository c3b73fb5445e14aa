package session

import (
	"testing"
)

func TestBumpIsMonotonic(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, 0, nil)

	seen := map[uint64]bool{}
	var prev uint64
	for i := 0; i < 5; i++ {
		key := store.Bump("voice")
		n, ok := key.Counter()
		if !ok {
			t.Fatalf("key %q has no counter suffix", key)
		}
		if i > 0 && n <= prev {
			t.Fatalf("bump produced non-increasing counter: prev=%d new=%d", prev, n)
		}
		if seen[n] {
			t.Fatalf("bump produced duplicate counter %d", n)
		}
		seen[n] = true
		prev = n
	}
}

func TestCurrentIsStableUntilBump(t *testing.T) {
	store := New(t.TempDir(), 0, nil)
	a := store.Current("voice")
	b := store.Current("voice")
	if a != b {
		t.Fatalf("Current should be stable: %q != %q", a, b)
	}
	bumped := store.Bump("voice")
	if bumped == a {
		t.Fatalf("Bump should change the key")
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	store := New(t.TempDir(), 3, nil)
	key := store.Bump("voice")
	for i := 0; i < 5; i++ {
		store.Append(key, Turn{Role: RoleUser, Content: string(rune('a' + i))})
	}
	hist := store.History(key)
	if len(hist) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(hist))
	}
	if hist[0].Content != "c" || hist[2].Content != "e" {
		t.Fatalf("unexpected history contents: %+v", hist)
	}
}

func TestResetHistoryKeepsKey(t *testing.T) {
	store := New(t.TempDir(), 0, nil)
	key := store.Bump("voice")
	store.Append(key, Turn{Role: RoleUser, Content: "hi"})
	store.ResetHistory(key)
	if hist := store.History(key); len(hist) != 0 {
		t.Fatalf("expected empty history after reset, got %v", hist)
	}
}

func TestConsecutiveEmptyTriggersReset(t *testing.T) {
	store := New(t.TempDir(), 0, nil)
	key := store.Bump("voice")

	if store.RecordTextDone(key, true, 3) {
		t.Fatalf("threshold should not trigger on first empty")
	}
	if store.RecordTextDone(key, true, 3) {
		t.Fatalf("threshold should not trigger on second empty")
	}
	if !store.RecordTextDone(key, true, 3) {
		t.Fatalf("threshold should trigger on third consecutive empty")
	}
	// counter resets after triggering
	if store.RecordTextDone(key, true, 3) {
		t.Fatalf("threshold should not immediately retrigger")
	}
}

func TestNonEmptyResetsConsecutiveCounter(t *testing.T) {
	store := New(t.TempDir(), 0, nil)
	key := store.Bump("voice")
	store.RecordTextDone(key, true, 3)
	store.RecordTextDone(key, false, 3)
	if store.RecordTextDone(key, true, 3) {
		t.Fatalf("counter should have reset after a non-empty text_done")
	}
}
