package kv

import (
	goerrors "errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wdnprotocol/wdnd/log"
)

var errWrongLevelDBBatchKind = goerrors.New("kv: batch was not created by this database's NewBatch")

// LevelDBConfig configures a goleveldb-backed Database.
type LevelDBConfig struct {
	Path           string
	ReadOnly       bool
	BlockCacheSize int // bytes; 0 uses goleveldb's default
}

// LevelDBDatabase is the fallback Database implementation, grounded on
// syndtr/goleveldb, for environments where pebble's cgo-free but
// still-heavier dependency footprint isn't wanted. Columns are emulated
// the same way as PebbleDatabase: a one-byte key prefix.
type LevelDBDatabase struct {
	db  *leveldb.DB
	log *log.Logger
}

// NewLevelDBDatabase opens (or creates) a goleveldb database at cfg.Path.
func NewLevelDBDatabase(cfg LevelDBConfig) (*LevelDBDatabase, error) {
	lg := log.Default().Module("kv").With("backend", "goleveldb", "path", cfg.Path)

	o := &opt.Options{
		ReadOnly: cfg.ReadOnly,
	}
	if cfg.BlockCacheSize > 0 {
		o.BlockCacheCapacity = cfg.BlockCacheSize
	}

	db, err := leveldb.OpenFile(cfg.Path, o)
	if err != nil {
		return nil, err
	}
	lg.Info("opened goleveldb database")
	return &LevelDBDatabase{db: db, log: lg}, nil
}

// Get returns the value stored at (col, key).
func (l *LevelDBDatabase) Get(col Column, key []byte) ([]byte, error) {
	value, err := l.db.Get(prefixedKey(col, key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Has reports whether (col, key) exists.
func (l *LevelDBDatabase) Has(col Column, key []byte) (bool, error) {
	ok, err := l.db.Has(prefixedKey(col, key), nil)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Put stores value at (col, key) outside of any batch.
func (l *LevelDBDatabase) Put(col Column, key, value []byte) error {
	return l.db.Put(prefixedKey(col, key), value, nil)
}

// Delete removes (col, key) outside of any batch.
func (l *LevelDBDatabase) Delete(col Column, key []byte) error {
	return l.db.Delete(prefixedKey(col, key), nil)
}

// NewBatch returns a new empty batch.
func (l *LevelDBDatabase) NewBatch() Batch {
	return &levelDBBatch{batch: new(leveldb.Batch)}
}

// Write commits a batch atomically.
func (l *LevelDBDatabase) Write(b Batch) error {
	lb, ok := b.(*levelDBBatch)
	if !ok {
		return errWrongLevelDBBatchKind
	}
	return l.db.Write(lb.batch, &opt.WriteOptions{Sync: true})
}

// Iterator returns an ascending iterator over every key in col.
func (l *LevelDBDatabase) Iterator(col Column) Iterator {
	rng := util.BytesPrefix([]byte{byte(col)})
	return &levelDBIterator{it: l.db.NewIterator(rng, nil)}
}

// Flush is a no-op for goleveldb: writes are synced per-batch already.
func (l *LevelDBDatabase) Flush() error { return nil }

// Close releases the database.
func (l *LevelDBDatabase) Close() error { return l.db.Close() }

type levelDBBatch struct {
	batch *leveldb.Batch
}

func (b *levelDBBatch) Put(col Column, key, value []byte) {
	b.batch.Put(prefixedKey(col, key), value)
}

func (b *levelDBBatch) Delete(col Column, key []byte) {
	b.batch.Delete(prefixedKey(col, key))
}

func (b *levelDBBatch) Reset() { b.batch.Reset() }
func (b *levelDBBatch) Len() int { return b.batch.Len() }

type levelDBIterator struct {
	it iterator
}

// iterator narrows goleveldb's iterator.Iterator to what Iterator needs.
type iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

func (it *levelDBIterator) Next() bool { return it.it.Next() }

func (it *levelDBIterator) Key() []byte {
	k := it.it.Key()
	if len(k) == 0 {
		return nil
	}
	return append([]byte(nil), k[1:]...)
}

func (it *levelDBIterator) Value() []byte {
	return append([]byte(nil), it.it.Value()...)
}

func (it *levelDBIterator) Error() error { return it.it.Error() }
func (it *levelDBIterator) Close() error { it.it.Release(); return nil }
