package task

import (
	"github.com/wdnprotocol/wdnd/blockchain"
	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/kv"
	"github.com/wdnprotocol/wdnd/rlp"
	"github.com/wdnprotocol/wdnd/types"
)

// DB is the task engine's storage: the durable tasks/task_operations/
// task_results column tries, plus one scratch trie per collection that
// resets to empty after every block pack (spec.md §4.4).
type DB struct {
	store kv.Database

	tasks          *kv.ColumnTrie
	taskOperations *kv.ColumnTrie
	taskResults    *kv.ColumnTrie

	tasksTemp          *kv.ColumnTrie
	taskOperationsTemp *kv.ColumnTrie
	taskResultsTemp    *kv.ColumnTrie
}

// OpenDB loads (or initializes) the task columns of store.
func OpenDB(store kv.Database) (*DB, error) {
	tasks, err := kv.OpenColumnTrie(store, kv.ColumnTasks)
	if err != nil {
		return nil, err
	}
	taskOps, err := kv.OpenColumnTrie(store, kv.ColumnTaskOperations)
	if err != nil {
		return nil, err
	}
	taskResults, err := kv.OpenColumnTrie(store, kv.ColumnTaskResults)
	if err != nil {
		return nil, err
	}
	return &DB{
		store:              store,
		tasks:              tasks,
		taskOperations:     taskOps,
		taskResults:        taskResults,
		tasksTemp:          kv.NewScratchTrie(),
		taskOperationsTemp: kv.NewScratchTrie(),
		taskResultsTemp:    kv.NewScratchTrie(),
	}, nil
}

// recordKey returns a record's durable trie key: keccak256 of its RLP
// encoding, per spec.md §3 ("each record's durable key inside its trie is
// keccak256(serialize(record))").
func recordKey(v any) (types.Hash, error) {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// PutTaskOperation inserts op into both the durable and temp
// task_operations tries.
func (db *DB) PutTaskOperation(op blockchain.TaskOperation) error {
	key, err := recordKey(op)
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(op)
	if err != nil {
		return err
	}
	if err := db.taskOperations.Put(key.Bytes(), enc); err != nil {
		return err
	}
	return db.taskOperationsTemp.Put(key.Bytes(), enc)
}

// PutTaskData inserts d into both the durable and temp tasks tries,
// mirroring a TaskOperation's effect into the catalog's current-state view.
func (db *DB) PutTaskData(d Data) error {
	key, err := recordKey(d)
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(d)
	if err != nil {
		return err
	}
	if err := db.tasks.Put(key.Bytes(), enc); err != nil {
		return err
	}
	return db.tasksTemp.Put(key.Bytes(), enc)
}

// PutTaskResult inserts r into both the durable and temp task_results tries.
func (db *DB) PutTaskResult(r blockchain.TaskResult) error {
	key, err := recordKey(r)
	if err != nil {
		return err
	}
	enc, err := rlp.EncodeToBytes(r)
	if err != nil {
		return err
	}
	if err := db.taskResults.Put(key.Bytes(), enc); err != nil {
		return err
	}
	return db.taskResultsTemp.Put(key.Bytes(), enc)
}

// Roots returns the current durable and scratch root hashes for all three
// collections, in the order the blockchain engine's header fields expect
// (task_root/task_operation_root/task_result_root and their current_*
// counterparts).
type Roots struct {
	TaskRoot              types.Hash
	TaskOperationRoot      types.Hash
	TaskResultRoot         types.Hash
	CurrentTaskRoot        types.Hash
	CurrentTaskOperationRoot types.Hash
	CurrentTaskResultRoot  types.Hash
}

func (db *DB) Roots() Roots {
	return Roots{
		TaskRoot:                 db.tasks.Root(),
		TaskOperationRoot:         db.taskOperations.Root(),
		TaskResultRoot:            db.taskResults.Root(),
		CurrentTaskRoot:           db.tasksTemp.Root(),
		CurrentTaskOperationRoot:  db.taskOperationsTemp.Root(),
		CurrentTaskResultRoot:     db.taskResultsTemp.Root(),
	}
}

// ResetTemp clears every scratch trie, called after a block is packed.
func (db *DB) ResetTemp() {
	db.tasksTemp = kv.NewScratchTrie()
	db.taskOperationsTemp = kv.NewScratchTrie()
	db.taskResultsTemp = kv.NewScratchTrie()
}

// CommitAll commits the three durable tries into batch. It returns only an
// error; the new roots are not returned. Called as part of the same atomic write as a block pack so
// the catalog's durable trie roots never drift from what was recorded in
// the packed header.
func (db *DB) CommitAll(batch kv.Batch) error {
	if _, err := db.tasks.Commit(batch); err != nil {
		return err
	}
	if _, err := db.taskOperations.Commit(batch); err != nil {
		return err
	}
	if _, err := db.taskResults.Commit(batch); err != nil {
		return err
	}
	return nil
}

// Write applies a CommitAll-staged batch atomically.
func (db *DB) Write(batch kv.Batch) error {
	return db.store.Write(batch)
}
