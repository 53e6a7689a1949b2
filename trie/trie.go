package trie

import (
	"errors"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/types"
)

var (
	// ErrNotFound is returned when a key is not found in the trie.
	ErrNotFound = errors.New("trie: key not found")
)

// emptyRoot is the root hash of an empty trie: Keccak256([]byte{headerEmpty}).
var emptyRoot = crypto.Keccak256Hash(emptyNodeEncoding)

// Trie is an authenticated radix-16 Merkle-Patricia trie, extension-node
// variant: Leaf and Extension are distinct node kinds, and a value stored
// exactly at a branch point lives in that branchNode's Value field rather
// than behind a 17th child slot.
type Trie struct {
	root node
}

// New creates a new, empty trie.
func New() *Trie {
	return &Trie{}
}

// Get retrieves the value associated with the given key.
// Returns ErrNotFound if the key does not exist.
func (t *Trie) Get(key []byte) ([]byte, error) {
	value, found := t.get(t.root, keyToNibbles(key), 0)
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *Trie) get(n node, key []byte, pos int) ([]byte, bool) {
	switch n := n.(type) {
	case nil:
		return nil, false
	case *leafNode:
		if len(key)-pos != len(n.Key) || !keysEqual(n.Key, key[pos:]) {
			return nil, false
		}
		return []byte(n.Val), true
	case *extensionNode:
		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, false
		}
		return t.get(n.Val, key, pos+len(n.Key))
	case *branchNode:
		if pos == len(key) {
			if n.Value == nil {
				return nil, false
			}
			return []byte(n.Value), true
		}
		return t.get(n.Children[key[pos]], key, pos+1)
	case hashNode:
		// A plain Trie never resolves hash references; use ResolvableTrie
		// to read a trie that was loaded from a node database.
		return nil, false
	default:
		return nil, false
	}
}

// Put inserts or updates a key-value pair in the trie.
// If value is empty/nil, the key is deleted instead.
func (t *Trie) Put(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	k := keyToNibbles(key)
	n, err := t.insert(t.root, k, valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) insert(n node, key []byte, value valueNode) (node, error) {
	switch n := n.(type) {
	case nil:
		return &leafNode{Key: key, Val: value, flags: nodeFlag{dirty: true}}, nil

	case *leafNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen == len(n.Key) && matchLen == len(key) {
			return &leafNode{Key: n.Key, Val: value, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &branchNode{flags: nodeFlag{dirty: true}}
		if matchLen == len(n.Key) {
			branch.Value = n.Val
		} else {
			branch.Children[n.Key[matchLen]] = &leafNode{Key: n.Key[matchLen+1:], Val: n.Val, flags: nodeFlag{dirty: true}}
		}
		if matchLen == len(key) {
			branch.Value = value
		} else {
			branch.Children[key[matchLen]] = &leafNode{Key: key[matchLen+1:], Val: value, flags: nodeFlag{dirty: true}}
		}
		if matchLen > 0 {
			return &extensionNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
		}
		return branch, nil

	case *extensionNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen == len(n.Key) {
			child, err := t.insert(n.Val, key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &extensionNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &branchNode{flags: nodeFlag{dirty: true}}
		if matchLen == len(n.Key)-1 {
			branch.Children[n.Key[matchLen]] = n.Val
		} else {
			branch.Children[n.Key[matchLen]] = &extensionNode{Key: n.Key[matchLen+1:], Val: n.Val, flags: nodeFlag{dirty: true}}
		}
		if matchLen == len(key) {
			branch.Value = value
		} else {
			branch.Children[key[matchLen]] = &leafNode{Key: key[matchLen+1:], Val: value, flags: nodeFlag{dirty: true}}
		}
		if matchLen > 0 {
			return &extensionNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
		}
		return branch, nil

	case *branchNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Value = value
			return nn, nil
		}
		child, err := t.insert(n.Children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return nn, nil

	case hashNode:
		return nil, errors.New("trie: cannot insert into unresolved hash node (no database)")

	default:
		return nil, errors.New("trie: unknown node type")
	}
}

// Delete removes a key from the trie.
// If the key does not exist, Delete is a no-op and returns nil.
func (t *Trie) Delete(key []byte) error {
	n, err := t.delete(t.root, keyToNibbles(key))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *Trie) delete(n node, key []byte) (node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil

	case *leafNode:
		if keysEqual(n.Key, key) {
			return nil, nil
		}
		return n, nil

	case *extensionNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen < len(n.Key) {
			return n, nil
		}
		child, err := t.delete(n.Val, key[matchLen:])
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		switch cn := child.(type) {
		case *leafNode:
			return &leafNode{Key: concat(n.Key, cn.Key), Val: cn.Val, flags: nodeFlag{dirty: true}}, nil
		case *extensionNode:
			return &extensionNode{Key: concat(n.Key, cn.Key), Val: cn.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &extensionNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *branchNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Value = nil
		} else {
			child, err := t.delete(n.Children[key[0]], key[1:])
			if err != nil {
				return nil, err
			}
			nn.Children[key[0]] = child
		}
		return collapseBranch(nn), nil

	case hashNode:
		return nil, errors.New("trie: cannot delete from unresolved hash node (no database)")

	default:
		return nil, errors.New("trie: unknown node type")
	}
}

// collapseBranch reduces a branch node that has lost children or its value
// down to a leaf or extension node when fewer than two "slots" (children
// plus an in-branch value) remain, per the trie's canonical-form invariant.
func collapseBranch(n *branchNode) node {
	count := 0
	idx := -1
	for i := 0; i < 16; i++ {
		if n.Children[i] != nil {
			count++
			idx = i
		}
	}
	hasValue := n.Value != nil

	switch {
	case count == 0 && !hasValue:
		return nil
	case count == 0 && hasValue:
		return &leafNode{Key: []byte{}, Val: n.Value, flags: nodeFlag{dirty: true}}
	case count == 1 && !hasValue:
		child := n.Children[idx]
		switch cn := child.(type) {
		case *leafNode:
			return &leafNode{Key: concat([]byte{byte(idx)}, cn.Key), Val: cn.Val, flags: nodeFlag{dirty: true}}
		case *extensionNode:
			return &extensionNode{Key: concat([]byte{byte(idx)}, cn.Key), Val: cn.Val, flags: nodeFlag{dirty: true}}
		default:
			return &extensionNode{Key: []byte{byte(idx)}, Val: child, flags: nodeFlag{dirty: true}}
		}
	default:
		return n
	}
}

// Hash computes the Keccak-256 root hash of the trie.
// An empty trie returns the hash of the canonical empty-node encoding.
func (t *Trie) Hash() types.Hash {
	if t.root == nil {
		return emptyRoot
	}
	h := newHasher()
	hashed, cached := h.hash(t.root, true)
	t.root = cached
	switch n := hashed.(type) {
	case hashNode:
		return types.BytesToHash(n)
	default:
		enc, _ := encodeNode(hashed)
		return crypto.Keccak256Hash(enc)
	}
}

// Len returns the number of key-value pairs stored in the trie.
// This traverses the entire trie, so it is O(n).
func (t *Trie) Len() int {
	return countValues(t.root)
}

// Empty returns true if the trie has no entries.
func (t *Trie) Empty() bool {
	return t.root == nil
}

// countValues recursively counts the number of stored values in the trie.
func countValues(n node) int {
	switch n := n.(type) {
	case nil:
		return 0
	case *leafNode:
		return 1
	case *extensionNode:
		return countValues(n.Val)
	case *branchNode:
		count := 0
		if n.Value != nil {
			count++
		}
		for i := 0; i < 16; i++ {
			count += countValues(n.Children[i])
		}
		return count
	case hashNode:
		return 0 // cannot count through unresolved hash nodes
	default:
		return 0
	}
}

// keysEqual returns true if two nibble/byte slices are equal.
func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// concat concatenates two byte slices into a new slice.
func concat(a, b []byte) []byte {
	r := make([]byte, len(a)+len(b))
	copy(r, a)
	copy(r[len(a):], b)
	return r
}
