package node

import (
	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/rlp"
	"github.com/wdnprotocol/wdnd/types"
)

// DB is the node engine's storage: the durable nodes/nodes_activated
// column tries, plus one scratch trie per collection for the "current"
// view that resets to empty after every block pack (spec.md §4.4).
type DB struct {
	store kv.Database

	nodes          *kv.ColumnTrie
	nodesActivated *kv.ColumnTrie

	nodesTemp          *kv.ColumnTrie
	nodesActivatedTemp *kv.ColumnTrie
}

// OpenDB loads (or initializes) the node columns of store.
func OpenDB(store kv.Database) (*DB, error) {
	nodes, err := kv.OpenColumnTrie(store, kv.ColumnNodes)
	if err != nil {
		return nil, err
	}
	activated, err := kv.OpenColumnTrie(store, kv.ColumnNodesActivated)
	if err != nil {
		return nil, err
	}
	return &DB{
		store:              store,
		nodes:              nodes,
		nodesActivated:     activated,
		nodesTemp:          kv.NewScratchTrie(),
		nodesActivatedTemp: kv.NewScratchTrie(),
	}, nil
}

func recordKey(v any) (types.Hash, error) {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// PutNode inserts d into both the durable and temp nodes tries.
func (db *DB) PutNode(d Data) error {
	key, err := recordKey(d)
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(d)
	if err != nil {
		return err
	}
	if err := db.nodes.Put(key.Bytes(), enc); err != nil {
		return err
	}
	return db.nodesTemp.Put(key.Bytes(), enc)
}

// PutActivation inserts an activation record keyed by its own hash into
// both the durable and temp nodes_activated tries.
func (db *DB) PutActivation(activationHash types.Hash, enc []byte) error {
	if err := db.nodesActivated.Put(activationHash.Bytes(), enc); err != nil {
		return err
	}
	return db.nodesActivatedTemp.Put(activationHash.Bytes(), enc)
}

// Roots returns the current durable and scratch root hashes for both
// collections, in the order the blockchain engine's header fields expect.
type Roots struct {
	NodeRoot                  types.Hash
	NodeActivationRoot        types.Hash
	CurrentNodeRoot           types.Hash
	CurrentNodeActivationRoot types.Hash
}

func (db *DB) Roots() Roots {
	return Roots{
		NodeRoot:                  db.nodes.Root(),
		NodeActivationRoot:        db.nodesActivated.Root(),
		CurrentNodeRoot:           db.nodesTemp.Root(),
		CurrentNodeActivationRoot: db.nodesActivatedTemp.Root(),
	}
}

// ResetTemp clears both scratch tries, called after a block is packed.
func (db *DB) ResetTemp() {
	db.nodesTemp = kv.NewScratchTrie()
	db.nodesActivatedTemp = kv.NewScratchTrie()
}

// CommitAll commits both durable tries into batch.
func (db *DB) CommitAll(batch kv.Batch) error {
	if _, err := db.nodes.Commit(batch); err != nil {
		return err
	}
	if _, err := db.nodesActivated.Commit(batch); err != nil {
		return err
	}
	return nil
}

// Write applies a CommitAll-staged batch atomically.
func (db *DB) Write(batch kv.Batch) error {
	return db.store.Write(batch)
}
