package filter

import "testing"

func TestEmptyAllowListAllowsEverything(t *testing.T) {
	l := NewAllowList(nil)
	if !l.Empty() {
		t.Fatalf("expected empty list")
	}
	if !l.Allows("heap") || !l.Allows("") {
		t.Fatalf("empty allow-list should not filter anything")
	}
}

func TestAllowListExactMatch(t *testing.T) {
	l := NewAllowList([]string{" heap ", "stack", "", "heap"})
	if got := l.Entries(); len(got) != 2 || got[0] != "heap" || got[1] != "stack" {
		t.Fatalf("expected [heap stack], got %v", got)
	}
	if !l.Allows("heap") {
		t.Fatalf("expected heap to pass")
	}
	if l.Allows("hea") || l.Allows("heap2") {
		t.Fatalf("allow-list must match exact names only")
	}
}

func TestPrefixList(t *testing.T) {
	l := NewPrefixList([]string{"net/http.", "main."})
	if !l.Allows("net/http.(*conn).serve") {
		t.Fatalf("expected prefix match to pass")
	}
	if !l.Allows("main.worker") {
		t.Fatalf("expected main prefix to pass")
	}
	if l.Allows("runtime.gcBgMarkWorker") {
		t.Fatalf("expected non-matching name to be excluded")
	}
	if !NewPrefixList([]string{"  "}).Allows("anything") {
		t.Fatalf("blank-only prefix list should behave as empty")
	}
}

func TestUnmatched(t *testing.T) {
	l := NewAllowList([]string{"heap", "stak"})
	got := l.Unmatched([]string{"heap", "stack", "mspan"})
	if len(got) != 1 || got[0] != "stak" {
		t.Fatalf("expected [stak], got %v", got)
	}
	if NewAllowList(nil).Unmatched([]string{"heap"}) != nil {
		t.Fatalf("empty list has nothing unmatched")
	}
}

func TestSuggest(t *testing.T) {
	known := []string{"heap", "stack", "mspan", "mcache"}
	if got := Suggest("stak", known); got != "stack" {
		t.Fatalf("expected stack, got %q", got)
	}
	if got := Suggest("HEAP", known); got != "heap" {
		t.Fatalf("expected case-insensitive match heap, got %q", got)
	}
	if got := Suggest("completely-unrelated", known); got != "" {
		t.Fatalf("expected no suggestion, got %q", got)
	}
}
