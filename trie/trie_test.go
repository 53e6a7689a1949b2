package trie

import (
	"math/rand"
	"testing"
)

func TestEmptyTrieRoot(t *testing.T) {
	tr := New()
	if !tr.Empty() {
		t.Fatal("New() trie should be Empty()")
	}
	if tr.Hash() != emptyRoot {
		t.Fatalf("Hash() of empty trie = %x, want emptyRoot = %x", tr.Hash(), emptyRoot)
	}
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	tr := New()
	pairs := map[string]string{
		"alpha":   "one",
		"bravo":   "two",
		"charlie": "three",
		"delta":   "four",
	}
	for k, v := range pairs {
		if err := tr.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}
	for k, v := range pairs {
		got, err := tr.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q): %v", k, err)
		}
		if string(got) != v {
			t.Fatalf("Get(%q) = %q, want %q", k, got, v)
		}
	}
	for k := range pairs {
		if err := tr.Delete([]byte(k)); err != nil {
			t.Fatalf("Delete(%q): %v", k, err)
		}
		if _, err := tr.Get([]byte(k)); err != ErrNotFound {
			t.Fatalf("Get(%q) after Delete = %v, want ErrNotFound", k, err)
		}
	}
	if !tr.Empty() {
		t.Fatal("trie should be Empty() after deleting every key")
	}
	if tr.Hash() != emptyRoot {
		t.Fatalf("Hash() after deleting every key = %x, want emptyRoot = %x", tr.Hash(), emptyRoot)
	}
}

func TestDeleteMissingKeyIsNoOp(t *testing.T) {
	tr := New()
	if err := tr.Put([]byte("present"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	before := tr.Hash()
	if err := tr.Delete([]byte("absent")); err != nil {
		t.Fatalf("Delete(missing key): %v", err)
	}
	if tr.Hash() != before {
		t.Fatalf("Hash() changed after deleting a missing key: got %x, want %x", tr.Hash(), before)
	}
}

func TestCollapseBranchAfterDelete(t *testing.T) {
	// Two keys sharing no nibble prefix force a root branchNode; deleting
	// one key must collapse the branch back down to a single leaf rather
	// than leaving a degenerate one-child branch behind.
	tr := New()
	if err := tr.Put([]byte{0x01}, []byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tr.Put([]byte{0x20}, []byte("b")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := tr.root.(*branchNode); !ok {
		t.Fatalf("root type = %T, want *branchNode before delete", tr.root)
	}
	if err := tr.Delete([]byte{0x20}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := tr.root.(*leafNode); !ok {
		t.Fatalf("root type = %T, want *leafNode after collapsing delete", tr.root)
	}
	got, err := tr.Get([]byte{0x01})
	if err != nil {
		t.Fatalf("Get after collapse: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("Get after collapse = %q, want %q", got, "a")
	}
}

func TestLenAndEmpty(t *testing.T) {
	tr := New()
	if tr.Len() != 0 {
		t.Fatalf("Len() of empty trie = %d, want 0", tr.Len())
	}
	for i, k := range []string{"a", "b", "c"} {
		if err := tr.Put([]byte(k), []byte{byte(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
	if tr.Empty() {
		t.Fatal("Empty() = true, want false after inserting keys")
	}
}

// TestTrieRootEqualityAcrossInsertOrder is the literal scenario 6 example:
// insert two permutations of the same three (key,value) pairs into two
// empty tries and assert their roots are equal and both differ from the
// empty-trie root.
func TestTrieRootEqualityAcrossInsertOrder(t *testing.T) {
	type kv struct {
		key, val []byte
	}
	order1 := []kv{
		{[]byte{0x01}, []byte("a")},
		{[]byte{0x02}, []byte("b")},
		{[]byte{0x03}, []byte("c")},
	}
	order2 := []kv{
		{[]byte{0x03}, []byte("c")},
		{[]byte{0x01}, []byte("a")},
		{[]byte{0x02}, []byte("b")},
	}

	t1, t2 := New(), New()
	for _, p := range order1 {
		if err := t1.Put(p.key, p.val); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for _, p := range order2 {
		if err := t2.Put(p.key, p.val); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	h1, h2 := t1.Hash(), t2.Hash()
	if h1 != h2 {
		t.Fatalf("roots differ across insertion order: %x != %x", h1, h2)
	}
	if h1 == emptyRoot {
		t.Fatal("non-empty trie root must differ from the empty-trie root")
	}
}

// TestTrieDeterminismRandomPermutations generalizes scenario 6's I1/I2
// invariant to larger, randomly shuffled key sets.
func TestTrieDeterminismRandomPermutations(t *testing.T) {
	const n = 50
	keys := make([][]byte, n)
	vals := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{byte(i), byte(i * 7), byte(i * 13)}
		vals[i] = []byte{byte(i), byte(255 - i)}
	}

	rng := rand.New(rand.NewSource(1))
	perm1 := rng.Perm(n)
	perm2 := rng.Perm(n)

	t1, t2 := New(), New()
	for _, i := range perm1 {
		if err := t1.Put(keys[i], vals[i]); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for _, i := range perm2 {
		if err := t2.Put(keys[i], vals[i]); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if t1.Hash() != t2.Hash() {
		t.Fatalf("roots differ across random permutations: %x != %x", t1.Hash(), t2.Hash())
	}
}
