package kv

import (
	"github.com/wdnprotocol/wdnd/trie"
	"github.com/wdnprotocol/wdnd/types"
)

// rootKey is the fixed key under which a column's current trie root hash
// is stored, in the column's own keyspace (so it lives alongside the trie
// nodes it roots, not in ColumnExtra).
var rootKey = []byte("root")

// ColumnTrie binds one authenticated trie to one column of a Database: a
// NodeDatabase reading/writing that column's keyspace, and a
// ResolvableTrie rooted at whatever root hash was last persisted under
// rootKey. Every fixed column but ColumnExtra is backed by exactly one of
// these; ColumnExtra instead holds direct pointer keys.
type ColumnTrie struct {
	db     Database
	col    Column
	nodeDB *trie.NodeDatabase
	t      *trie.ResolvableTrie
}

// OpenColumnTrie loads the column's persisted root (zero/empty if none has
// ever been committed) and returns a ColumnTrie ready for Get/Put/Delete.
func OpenColumnTrie(db Database, col Column) (*ColumnTrie, error) {
	root, err := loadColumnRoot(db, col)
	if err != nil {
		return nil, err
	}
	nodeDB := trie.NewNodeDatabase(trie.NewColumnNodeReader(func(key []byte) ([]byte, error) {
		return db.Get(col, key)
	}))
	t, err := trie.NewResolvableTrie(root, nodeDB)
	if err != nil {
		return nil, err
	}
	return &ColumnTrie{db: db, col: col, nodeDB: nodeDB, t: t}, nil
}

// loadColumnRoot reads the column's persisted root hash, returning the
// zero hash if the column has never been committed (NewResolvableTrie
// treats the zero hash as the empty trie).
func loadColumnRoot(db Database, col Column) (types.Hash, error) {
	data, err := db.Get(col, rootKey)
	if err == ErrNotFound {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(data), nil
}

// Get retrieves a value from the column's trie.
func (ct *ColumnTrie) Get(key []byte) ([]byte, error) {
	return ct.t.Get(key)
}

// Put stages a key/value write against the column's trie. The write is
// not durable until Commit is called.
func (ct *ColumnTrie) Put(key, value []byte) error {
	return ct.t.Put(key, value)
}

// Delete stages a key removal against the column's trie.
func (ct *ColumnTrie) Delete(key []byte) error {
	return ct.t.Delete(key)
}

// Root returns the trie's current in-memory root hash, which may not yet
// be committed to disk.
func (ct *ColumnTrie) Root() types.Hash {
	return ct.t.Hash()
}

// Commit hashes and stages every dirty node plus the new root pointer into
// batch, scoped to this column. The caller is expected to apply batch via
// Database.Write as part of a larger atomic write (e.g. a full block
// pack), so a trie root and its nodes never land on disk out of step with
// each other.
func (ct *ColumnTrie) Commit(batch Batch) (types.Hash, error) {
	root, err := trie.CommitTrie(&ct.t.Trie, ct.nodeDB)
	if err != nil {
		return types.Hash{}, err
	}
	if err := ct.nodeDB.Commit(trie.NewColumnNodeWriter(func(key, value []byte) error {
		batch.Put(ct.col, key, value)
		return nil
	})); err != nil {
		return types.Hash{}, err
	}
	batch.Put(ct.col, rootKey, root.Bytes())
	return root, nil
}

// Reset discards the trie's contents and returns it to the empty root,
// without touching whatever has already been committed to disk. Used by
// the temp-trie scratch columns (nodes_activated-style "current" tries)
// that reset to empty after each block pack.
func (ct *ColumnTrie) Reset() {
	ct.nodeDB = trie.NewNodeDatabase(nil)
	ct.t = &trie.ResolvableTrie{}
}

// NewScratchTrie returns a purely in-memory ColumnTrie with no backing
// column: it is never Commit-ed to a Database, only Put into, Hash'd, and
// Reset. This is the "current"/temp trie of §4.4 (node_activation,
// task_operations, task_results each keep one of these alongside their
// durable column trie), which exists only to derive a current_*_root
// header field for the duration of one block and is discarded on Reset.
func NewScratchTrie() *ColumnTrie {
	return &ColumnTrie{
		nodeDB: trie.NewNodeDatabase(nil),
		t:      &trie.ResolvableTrie{},
	}
}
