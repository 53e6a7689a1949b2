package trie

import (
	"errors"
	"sync"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/types"
)

var (
	ErrNodeNotFound = errors.New("trie: node not found in database")
)

// prefixedKey builds the on-disk key under which a node is stored:
// path_bytes ‖ (optional odd-length marker byte) ‖ hash, where path is the
// nibble path walked from the trie root to reach this node. Two different
// nibble paths of different parity can pack to the same bytes (packNibbles
// zero-pads odd lengths), so an odd-length path gets one extra marker byte
// appended to disambiguate it from an even-length path with the same
// packed bytes.
func prefixedKey(path []byte, hash hashNode) []byte {
	out := packNibbles(path)
	if len(path)%2 == 1 {
		out = append(out, 0x01)
	}
	return append(out, []byte(hash)...)
}

// NodeReader retrieves trie node encodings by their prefixed storage key.
type NodeReader interface {
	Node(key []byte) ([]byte, error)
}

// NodeWriter stores trie node encodings keyed by their prefixed storage key.
type NodeWriter interface {
	Put(key, data []byte) error
}

// NodeDatabase stores trie nodes in a two-layer cache: dirty nodes pending
// commit are kept in memory, with a disk-backed reader for already
// committed nodes. One NodeDatabase instance backs one trie column.
type NodeDatabase struct {
	mu    sync.RWMutex
	dirty map[string][]byte // prefixed key -> node encoding, uncommitted
	disk  NodeReader        // backing store (nil for in-memory only)
	size  int                // total size of dirty data in bytes
}

// NewNodeDatabase creates a trie node database backed by the given reader.
// If disk is nil, the database operates in memory only.
func NewNodeDatabase(disk NodeReader) *NodeDatabase {
	return &NodeDatabase{
		dirty: make(map[string][]byte),
		disk:  disk,
	}
}

// Node retrieves a node's encoding by path and hash. It checks the dirty
// cache first, then falls back to the disk reader.
func (db *NodeDatabase) Node(path []byte, hash hashNode) ([]byte, error) {
	if len(hash) == 0 {
		return nil, ErrNodeNotFound
	}
	key := prefixedKey(path, hash)

	db.mu.RLock()
	if data, ok := db.dirty[string(key)]; ok {
		db.mu.RUnlock()
		return data, nil
	}
	db.mu.RUnlock()

	if db.disk != nil {
		data, err := db.disk.Node(key)
		if err != nil {
			return nil, ErrNodeNotFound
		}
		return data, nil
	}
	return nil, ErrNodeNotFound
}

// InsertNode stages a node's encoding in the dirty cache under its prefixed
// storage key.
func (db *NodeDatabase) InsertNode(path []byte, hash hashNode, data []byte) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := string(prefixedKey(path, hash))
	if _, ok := db.dirty[key]; !ok {
		db.size += len(data)
	}
	db.dirty[key] = data
}

// DirtySize returns the total byte size of uncommitted nodes.
func (db *NodeDatabase) DirtySize() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.size
}

// DirtyCount returns the number of uncommitted nodes.
func (db *NodeDatabase) DirtyCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.dirty)
}

// Commit writes all dirty nodes to the given writer and clears the cache.
// Per the commit contract, this must not leave the column partially
// written on failure; callers are expected to run Commit inside the same
// atomic batch write used for the rest of the block pack.
func (db *NodeDatabase) Commit(writer NodeWriter) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for key, data := range db.dirty {
		if err := writer.Put([]byte(key), data); err != nil {
			return err
		}
	}
	db.dirty = make(map[string][]byte)
	db.size = 0
	return nil
}

// rawColumnNodeReader adapts a column Get function to the NodeReader interface.
type rawColumnNodeReader struct {
	get func(key []byte) ([]byte, error)
}

func (r *rawColumnNodeReader) Node(key []byte) ([]byte, error) {
	data, err := r.get(key)
	if err != nil {
		return nil, ErrNodeNotFound
	}
	return data, nil
}

// NewColumnNodeReader creates a NodeReader from a column's key-value getter.
func NewColumnNodeReader(get func(key []byte) ([]byte, error)) NodeReader {
	return &rawColumnNodeReader{get: get}
}

// rawColumnNodeWriter adapts a column Put function to the NodeWriter interface.
type rawColumnNodeWriter struct {
	put func(key, value []byte) error
}

func (w *rawColumnNodeWriter) Put(key, data []byte) error {
	return w.put(key, data)
}

// NewColumnNodeWriter creates a NodeWriter from a column's key-value setter.
func NewColumnNodeWriter(put func(key, value []byte) error) NodeWriter {
	return &rawColumnNodeWriter{put: put}
}

// CommitTrie persists every new or dirty node of t under its prefixed
// storage key in db, and returns the root hash. An empty trie is not
// stored (the null node is never persisted) and returns emptyRoot.
func CommitTrie(t *Trie, db *NodeDatabase) (types.Hash, error) {
	if t.root == nil {
		return emptyRoot, nil
	}
	hashed, cached, err := commitNode(t.root, nil, db)
	if err != nil {
		return types.Hash{}, err
	}
	t.root = cached
	hn, ok := hashed.(hashNode)
	if !ok {
		return types.Hash{}, errors.New("trie: commit did not produce a root hash")
	}
	return types.BytesToHash(hn), nil
}

// commitNode recursively encodes, hashes, and stages every dirty node under
// its prefixed key, returning the collapsed (hash-only) and cached
// (in-memory, flags-updated) forms of n.
func commitNode(n node, path []byte, db *NodeDatabase) (node, node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil, nil

	case hashNode:
		return n, n, nil

	case *leafNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			return hash, n, nil
		}
		enc, err := encodeNode(n)
		if err != nil {
			return nil, nil, err
		}
		hash := hashNode(crypto.Keccak256(enc))
		db.InsertNode(path, hash, enc)
		cached := n.copy()
		cached.flags = nodeFlag{hash: hash, dirty: false}
		return hash, cached, nil

	case *extensionNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			return hash, n, nil
		}
		childPath := concat(path, n.Key)
		childH, childC, err := commitNode(n.Val, childPath, db)
		if err != nil {
			return nil, nil, err
		}
		collapsed := &extensionNode{Key: n.Key, Val: childH}
		enc, err := encodeNode(collapsed)
		if err != nil {
			return nil, nil, err
		}
		hash := hashNode(crypto.Keccak256(enc))
		db.InsertNode(path, hash, enc)
		cached := &extensionNode{Key: n.Key, Val: childC, flags: nodeFlag{hash: hash, dirty: false}}
		return hash, cached, nil

	case *branchNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			return hash, n, nil
		}
		collapsed := &branchNode{Value: n.Value}
		cached := &branchNode{Value: n.Value}
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			childPath := concat(path, []byte{byte(i)})
			childH, childC, err := commitNode(n.Children[i], childPath, db)
			if err != nil {
				return nil, nil, err
			}
			collapsed.Children[i] = childH
			cached.Children[i] = childC
		}
		enc, err := encodeNode(collapsed)
		if err != nil {
			return nil, nil, err
		}
		hash := hashNode(crypto.Keccak256(enc))
		db.InsertNode(path, hash, enc)
		cached.flags = nodeFlag{hash: hash, dirty: false}
		return hash, cached, nil

	default:
		return nil, nil, errors.New("trie: commit: unknown node type")
	}
}

// ResolvableTrie is a Trie whose hashNode references are lazily resolved
// from a NodeDatabase, so it can read and extend a trie loaded from
// persistent storage rather than only an in-memory one.
type ResolvableTrie struct {
	Trie
	db *NodeDatabase
}

// NewResolvableTrie creates a trie backed by the given node database,
// rooted at root. If root is the empty-trie hash, returns an empty trie.
func NewResolvableTrie(root types.Hash, db *NodeDatabase) (*ResolvableTrie, error) {
	t := &ResolvableTrie{db: db}
	if root == emptyRoot || root.IsZero() {
		return t, nil
	}
	rootNode, err := t.resolveHash(nil, hashNode(root[:]))
	if err != nil {
		return nil, err
	}
	t.root = rootNode
	return t, nil
}

// resolveHash loads and decodes the node at path with the given hash.
func (t *ResolvableTrie) resolveHash(path []byte, hash hashNode) (node, error) {
	data, err := t.db.Node(path, hash)
	if err != nil {
		return nil, err
	}
	return decodeNode(hash, data)
}

// Get retrieves a value from the trie, resolving hash nodes as needed.
func (t *ResolvableTrie) Get(key []byte) ([]byte, error) {
	value, found, err := t.resolveGet(t.root, nil, keyToNibbles(key), 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (t *ResolvableTrie) resolveGet(n node, path, key []byte, pos int) ([]byte, bool, error) {
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case *leafNode:
		if len(key)-pos != len(n.Key) || !keysEqual(n.Key, key[pos:]) {
			return nil, false, nil
		}
		return []byte(n.Val), true, nil
	case *extensionNode:
		if len(key)-pos < len(n.Key) || !keysEqual(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, false, nil
		}
		return t.resolveGet(n.Val, concat(path, n.Key), key, pos+len(n.Key))
	case *branchNode:
		if pos == len(key) {
			if n.Value == nil {
				return nil, false, nil
			}
			return []byte(n.Value), true, nil
		}
		childPath := concat(path, []byte{key[pos]})
		return t.resolveGet(n.Children[key[pos]], childPath, key, pos+1)
	case hashNode:
		resolved, err := t.resolveHash(path, n)
		if err != nil {
			return nil, false, err
		}
		return t.resolveGet(resolved, path, key, pos)
	default:
		return nil, false, nil
	}
}

// Put inserts a key-value pair, resolving hash nodes as needed.
func (t *ResolvableTrie) Put(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	n, err := t.resolveInsert(t.root, nil, keyToNibbles(key), valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *ResolvableTrie) resolveInsert(n node, path, key []byte, value valueNode) (node, error) {
	if hn, ok := n.(hashNode); ok {
		resolved, err := t.resolveHash(path, hn)
		if err != nil {
			return nil, err
		}
		return t.resolveInsert(resolved, path, key, value)
	}
	switch n := n.(type) {
	case *extensionNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen == len(n.Key) {
			child, err := t.resolveInsert(n.Val, concat(path, n.Key), key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &extensionNode{Key: n.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}
	case *branchNode:
		nn := n.copy()
		nn.flags = nodeFlag{dirty: true}
		if len(key) == 0 {
			nn.Value = value
			return nn, nil
		}
		child, err := t.resolveInsert(n.Children[key[0]], concat(path, []byte{key[0]}), key[1:], value)
		if err != nil {
			return nil, err
		}
		nn.Children[key[0]] = child
		return nn, nil
	}
	return t.Trie.insert(n, key, value)
}

// Delete removes a key from the trie, resolving hash nodes as needed.
func (t *ResolvableTrie) Delete(key []byte) error {
	n, err := t.resolveDelete(t.root, nil, keyToNibbles(key))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func (t *ResolvableTrie) resolveDelete(n node, path, key []byte) (node, error) {
	if hn, ok := n.(hashNode); ok {
		resolved, err := t.resolveHash(path, hn)
		if err != nil {
			return nil, err
		}
		return t.resolveDelete(resolved, path, key)
	}
	switch n := n.(type) {
	case *extensionNode:
		matchLen := prefixLen(key, n.Key)
		if matchLen < len(n.Key) {
			return n, nil
		}
		child, err := t.resolveDelete(n.Val, concat(path, n.Key), key[matchLen:])
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
			child, err := t.resolveDelete(n.Children[key[0]], concat(path, []byte{key[0]}), key[1:])
			if err != nil {
				return nil, err
			}
			nn.Children[key[0]] = child
		}
		return collapseBranch(nn), nil
	}
	return t.Trie.delete(n, key)
}

// Hash computes the root hash.
func (t *ResolvableTrie) Hash() types.Hash {
	return t.Trie.Hash()
}

// Commit stores all dirty nodes to the database and returns the root hash.
func (t *ResolvableTrie) Commit() (types.Hash, error) {
	return CommitTrie(&t.Trie, t.db)
}
