package kv

import (
	"github.com/cockroachdb/pebble"

	"github.com/wdnprotocol/wdnd/log"
)

// PebbleConfig configures a pebble-backed Database.
type PebbleConfig struct {
	Path           string
	ReadOnly       bool
	BlockCacheSize int64 // bytes; 0 leaves Options.Cache nil, so pebble uses its default cache
}

// PebbleDatabase is the primary Database implementation, grounded on
// cockroachdb/pebble. Columns are emulated as a one-byte key prefix since
// pebble has no native column-family concept.
type PebbleDatabase struct {
	db    *pebble.DB
	cache *pebble.Cache
	log   *log.Logger
}

// NewPebbleDatabase opens (or creates) a pebble database at cfg.Path.
func NewPebbleDatabase(cfg PebbleConfig) (*PebbleDatabase, error) {
	opts := &pebble.Options{}
	if cfg.ReadOnly {
		opts.ReadOnly = true
	}

	lg := log.Default().Module("kv").With("backend", "pebble", "path", cfg.Path)

	var cache *pebble.Cache
	if cfg.BlockCacheSize > 0 {
		cache = pebble.NewCache(cfg.BlockCacheSize)
		opts.Cache = cache
		lg.Info("opening pebble database with block cache", "size_bytes", cfg.BlockCacheSize)
	} else {
		lg.Info("opening pebble database with pebble's default block cache")
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		if cache != nil {
			cache.Unref()
		}
		return nil, err
	}

	return &PebbleDatabase{db: db, cache: cache, log: lg}, nil
}

// Get returns the value stored at (col, key).
func (p *PebbleDatabase) Get(col Column, key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(prefixedKey(col, key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), value...)
	closer.Close()
	return out, nil
}

// Has reports whether (col, key) exists.
func (p *PebbleDatabase) Has(col Column, key []byte) (bool, error) {
	_, err := p.Get(col, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put stores value at (col, key) outside of any batch.
func (p *PebbleDatabase) Put(col Column, key, value []byte) error {
	return p.db.Set(prefixedKey(col, key), value, pebble.NoSync)
}

// Delete removes (col, key) outside of any batch.
func (p *PebbleDatabase) Delete(col Column, key []byte) error {
	return p.db.Delete(prefixedKey(col, key), pebble.NoSync)
}

// NewBatch returns a new empty batch.
func (p *PebbleDatabase) NewBatch() Batch {
	return &pebbleBatch{}
}

// Write commits a batch atomically.
func (p *PebbleDatabase) Write(b Batch) error {
	pb, ok := b.(*pebbleBatch)
	if !ok {
		return errWrongBatchKind
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, op := range pb.ops {
		if op.delete {
			if err := wb.Delete(op.key, nil); err != nil {
				return err
			}
			continue
		}
		if err := wb.Set(op.key, op.value, nil); err != nil {
			return err
		}
	}
	return p.db.Apply(wb, pebble.Sync)
}

// Iterator returns an ascending iterator over every key in col.
func (p *PebbleDatabase) Iterator(col Column) Iterator {
	lower := []byte{byte(col)}
	upper := []byte{byte(col) + 1}
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return &errIterator{err: err}
	}
	return &pebbleIterator{it: it, started: false}
}

// Flush forces buffered writes to stable storage.
func (p *PebbleDatabase) Flush() error {
	return p.db.Flush()
}

// Close releases the database and its cache.
func (p *PebbleDatabase) Close() error {
	var err error
	if p.db != nil {
		err = p.db.Close()
		p.db = nil
	}
	if p.cache != nil {
		p.cache.Unref()
		p.cache = nil
	}
	return err
}

type pebbleBatchOp struct {
	key, value []byte
	delete     bool
}

type pebbleBatch struct {
	ops []pebbleBatchOp
}

func (b *pebbleBatch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, pebbleBatchOp{key: prefixedKey(col, key), value: append([]byte(nil), value...)})
}

func (b *pebbleBatch) Delete(col Column, key []byte) {
	b.ops = append(b.ops, pebbleBatchOp{key: prefixedKey(col, key), delete: true})
}

func (b *pebbleBatch) Reset() { b.ops = b.ops[:0] }
func (b *pebbleBatch) Len() int { return len(b.ops) }

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		return it.it.First()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	k := it.it.Key()
	if len(k) == 0 {
		return nil
	}
	return append([]byte(nil), k[1:]...) // strip column prefix byte
}

func (it *pebbleIterator) Value() []byte {
	return append([]byte(nil), it.it.Value()...)
}

func (it *pebbleIterator) Error() error { return it.it.Error() }
func (it *pebbleIterator) Close() error { return it.it.Close() }

type errIterator struct{ err error }

func (it *errIterator) Next() bool     { return false }
func (it *errIterator) Key() []byte    { return nil }
func (it *errIterator) Value() []byte  { return nil }
func (it *errIterator) Error() error   { return it.err }
func (it *errIterator) Close() error   { return nil }

var errWrongBatchKind = pebbleBatchKindError{}

type pebbleBatchKindError struct{}

func (pebbleBatchKindError) Error() string {
	return "kv: batch was not created by this database's NewBatch"
}
