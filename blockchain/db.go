package blockchain

import (
	"time"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/rlp"
	"github.com/wdnprotocol/wdnd/types"
)

var latestHashKey = []byte("latest_hash")

// DB is the blockchain engine's storage: the content-addressed
// block_headers/block_bodies tries, plus the extra column's index->hash
// and latest-hash pointers. It does not hold the in-memory current_block
// accumulator; that belongs to Engine.
type DB struct {
	store   kv.Database
	headers *kv.ColumnTrie
	bodies  *kv.ColumnTrie

	// onTrieCommit, if set, is invoked with the wall-clock time spent
	// committing the header/body tries during PackedWrite. Metrics
	// wiring hangs a histogram observation off this hook rather than DB
	// importing the metrics package directly.
	onTrieCommit func(time.Duration)
}

// SetTrieCommitHook registers the callback invoked after each trie commit
// performed by PackedWrite, with the elapsed commit duration.
func (db *DB) SetTrieCommitHook(hook func(time.Duration)) {
	db.onTrieCommit = hook
}

// OpenDB loads (or initializes) the blockchain columns of store.
func OpenDB(store kv.Database) (*DB, error) {
	headers, err := kv.OpenColumnTrie(store, kv.ColumnBlockHeaders)
	if err != nil {
		return nil, err
	}
	bodies, err := kv.OpenColumnTrie(store, kv.ColumnBlockBodies)
	if err != nil {
		return nil, err
	}
	return &DB{store: store, headers: headers, bodies: bodies}, nil
}

// BlockHash returns the content-addressing key of a block: the Keccak
// hash of its RLP encoding.
func BlockHash(b Block) (types.Hash, error) {
	enc, err := rlp.EncodeToBytes(b)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// LatestHash returns the hash of the most recently packed block, or the
// zero hash if no block has ever been packed.
func (db *DB) LatestHash() (types.Hash, error) {
	data, err := db.store.Get(kv.ColumnExtra, latestHashKey)
	if err == kv.ErrNotFound {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(data), nil
}

// indexKey returns the extra-column key under which the hash for a given
// block index is stored.
func indexKey(index uint64) []byte {
	return rlp.EncodeUint64(index)
}

// HashByIndex looks up the hash of the block packed at index.
func (db *DB) HashByIndex(index uint64) (types.Hash, bool, error) {
	data, err := db.store.Get(kv.ColumnExtra, indexKey(index))
	if err == kv.ErrNotFound {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, err
	}
	return types.BytesToHash(data), true, nil
}

// BlockByHash loads a packed block by its content hash.
func (db *DB) BlockByHash(hash types.Hash) (Block, bool, error) {
	headerData, err := db.headers.Get(hash.Bytes())
	if err == kv.ErrNotFound {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, err
	}
	bodyData, err := db.bodies.Get(hash.Bytes())
	if err != nil {
		return Block{}, false, err
	}

	var header Header
	if err := rlp.DecodeBytes(headerData, &header); err != nil {
		return Block{}, false, err
	}
	var body Body
	if err := rlp.DecodeBytes(bodyData, &body); err != nil {
		return Block{}, false, err
	}
	return Block{Header: header, Body: body}, true, nil
}

// BlockByIndex loads a packed block by its header index.
func (db *DB) BlockByIndex(index uint64) (Block, bool, error) {
	hash, ok, err := db.HashByIndex(index)
	if err != nil || !ok {
		return Block{}, false, err
	}
	return db.BlockByHash(hash)
}

// PackedWrite is the atomic unit applied when a block is finalized: the
// index->hash and latest-hash extra pointers, plus the header and body
// trie inserts, all staged into one kv.Batch so a crash mid-pack can
// never leave a header without its body (or a pointer without either).
func (db *DB) PackedWrite(block Block, hash types.Hash, headerData, bodyData []byte) (kv.Batch, error) {
	if err := db.headers.Put(hash.Bytes(), headerData); err != nil {
		return nil, err
	}
	if err := db.bodies.Put(hash.Bytes(), bodyData); err != nil {
		return nil, err
	}

	batch := db.store.NewBatch()
	batch.Put(kv.ColumnExtra, indexKey(block.Header.Index), hash.Bytes())
	batch.Put(kv.ColumnExtra, latestHashKey, hash.Bytes())

	commitStart := time.Now()
	if _, err := db.headers.Commit(batch); err != nil {
		return nil, err
	}
	if _, err := db.bodies.Commit(batch); err != nil {
		return nil, err
	}
	if db.onTrieCommit != nil {
		db.onTrieCommit(time.Since(commitStart))
	}
	return batch, nil
}

// Write applies an already-staged PackedWrite batch atomically.
func (db *DB) Write(batch kv.Batch) error {
	return db.store.Write(batch)
}
