package trie

import (
	"github.com/wdnprotocol/wdnd/crypto"
)

// hasher recursively collapses a node tree to hash references, computing
// and caching the Keccak-256 hash of every branch/extension/leaf node.
type hasher struct{}

func newHasher() *hasher {
	return &hasher{}
}

// hash returns (collapsed, cached): collapsed is either the hashNode of n,
// or n itself if n's encoding is too small to bother hashing (this trie
// never inlines, it always persists every non-empty node so that
// prefixed_key lookups work uniformly; "too small to hash" only applies to
// the empty node). cached is the same subtree with flags updated so a
// later hash() call on an unmodified node is a cache hit.
func (h *hasher) hash(n node, force bool) (node, node) {
	if n == nil {
		return nil, nil
	}
	if hash, dirty := n.cache(); hash != nil && !dirty {
		return hash, n
	}
	collapsed, cached := h.hashChildren(n)
	hashed, err := h.store(collapsed)
	if err != nil {
		panic("trie: hasher: " + err.Error())
	}
	cachedHash, _ := hashed.(hashNode)
	switch cn := cached.(type) {
	case *leafNode:
		cn.flags.hash = cachedHash
		cn.flags.dirty = false
	case *extensionNode:
		cn.flags.hash = cachedHash
		cn.flags.dirty = false
	case *branchNode:
		cn.flags.hash = cachedHash
		cn.flags.dirty = false
	}
	return hashed, cached
}

// hashChildren replaces child node references with their hashes, returning
// a collapsed version suitable for encoding and a cached version retained
// in the live trie.
func (h *hasher) hashChildren(original node) (node, node) {
	switch n := original.(type) {
	case *leafNode:
		return n, n
	case *extensionNode:
		collapsed, cached := n.copy(), n.copy()
		childH, childC := h.hash(n.Val, false)
		collapsed.Val = childH
		cached.Val = childC
		return collapsed, cached
	case *branchNode:
		collapsed, cached := n.copy(), n.copy()
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			childH, childC := h.hash(n.Children[i], false)
			collapsed.Children[i] = childH
			cached.Children[i] = childC
		}
		return collapsed, cached
	default:
		return n, n
	}
}

// store encodes n and returns its Keccak-256 hash as a hashNode. Every
// non-empty node is persisted by hash (this trie's commit contract requires
// every new or dirty node to be addressable under prefixed_key).
func (h *hasher) store(n node) (node, error) {
	if _, ok := n.(hashNode); ok {
		return n, nil
	}
	if n == nil {
		return hashedNullNode(), nil
	}
	enc, err := encodeNode(n)
	if err != nil {
		return nil, err
	}
	return hashNode(crypto.Keccak256(enc)), nil
}

// hashedNullNode returns Keccak256([0x00]), the canonical empty-trie root.
func hashedNullNode() hashNode {
	return hashNode(crypto.Keccak256(emptyNodeEncoding))
}
