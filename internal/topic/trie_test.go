package topic

import "testing"

type leaf struct {
	id string
}

func TestTrieExactAndWildcard(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })

	s1 := &leaf{"s1"} // a.+.c
	s2 := &leaf{"s2"} // a.b.c
	s3 := &leaf{"s3"} // a.#

	if ok, err := tr.Set("a.+.c", s1); err != nil || !ok {
		t.Fatalf("set a.+.c: %v %v", ok, err)
	}
	if ok, err := tr.Set("a.b.c", s2); err != nil || !ok {
		t.Fatalf("set a.b.c: %v %v", ok, err)
	}
	if ok, err := tr.Set("a.#", s3); err != nil || !ok {
		t.Fatalf("set a.#: %v %v", ok, err)
	}

	got := tr.Get("a.b.c")
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d: %v", len(got), got)
	}
	// exact match (s2) must come first.
	if got[0] != s2 {
		t.Fatalf("expected exact match s2 first, got %v", got[0])
	}
}

func TestTrieSetUnsetRoundTrip(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })
	s := &leaf{"s"}
	tr.Set("x.y.z", s)
	before := tr.Get("x.y.z")
	removed, err := tr.Delete("x.y.z", s)
	if err != nil || !removed {
		t.Fatalf("delete failed: %v %v", removed, err)
	}
	after := tr.Get("x.y.z")
	if len(before) == 0 || len(after) != 0 {
		t.Fatalf("subscribe then unsubscribe should leave no matches: before=%v after=%v", before, after)
	}
}

func TestTriePruning(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })
	s := &leaf{"s"}
	tr.Set("a.b.c", s)
	tr.Delete("a.b.c", s)
	if len(tr.root.children) != 0 {
		t.Fatalf("expected trie to prune empty nodes, still has children: %v", tr.root.children)
	}
}

func TestTrieDuplicateSuppression(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })
	s := &leaf{"dup"}
	tr.Set("a.+.c", s)
	tr.Set("a.#", s)
	got := tr.Get("a.b.c")
	count := 0
	for _, g := range got {
		if g == s {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected leaf to be de-duplicated by identity, got %d occurrences", count)
	}
}

func TestTrieNoPlusMatchAcrossMultipleLevels(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })
	s := &leaf{"s"}
	tr.Set("a.+", s)
	if got := tr.Get("a.b.c"); len(got) != 0 {
		t.Fatalf("a.+ should not match a.b.c (extra level), got %v", got)
	}
}

func TestTrieHashMatchesZeroTrailingLevels(t *testing.T) {
	tr := New[*leaf](func() Collection[*leaf] { return NewSet[*leaf]() })
	s := &leaf{"s"}
	tr.Set("a.#", s)
	if got := tr.Get("a"); len(got) != 1 {
		t.Fatalf("a.# should match bare topic a (zero trailing levels), got %v", got)
	}
}

func TestSortedSetPriorityOrder(t *testing.T) {
	type entry struct {
		id       string
		priority float64
	}
	coll := NewSortedSet[*entry](
		func(e *entry) float64 { return e.priority },
		func(e *entry) string { return e.id },
	)
	a := &entry{"a", 1}
	b := &entry{"b", 5}
	c := &entry{"c", 1}
	coll.Add(a)
	coll.Add(b)
	coll.Add(c)
	items := coll.Items()
	if items[0] != b {
		t.Fatalf("expected highest priority first, got %v", items)
	}
	if items[1] != a || items[2] != c {
		t.Fatalf("expected insertion-order tie-break, got %v", items)
	}

	// Re-adding with same key replaces in place and re-sorts.
	aUpdated := &entry{"a", 10}
	coll.Add(aUpdated)
	items = coll.Items()
	if items[0] != aUpdated {
		t.Fatalf("expected updated priority to resort to the top, got %v", items)
	}
	if coll.Len() != 3 {
		t.Fatalf("expected replace-in-place to not grow the set, len=%d", coll.Len())
	}
}
