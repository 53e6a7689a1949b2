// trie_committer.go implements a trie commit and hashing pipeline with dirty
// node tracking, node reference counting for GC, batch database writes, and
// commit metrics. It provides a higher-level interface than the raw CommitTrie
// function in database.go.
package trie

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/types"
)

// CommitMetrics tracks statistics about a trie commit operation.
type CommitMetrics struct {
	NodesWritten int64
	BytesFlushed int64
	DirtyBefore  int64
	DirtyAfter   int64
	CommitTimeNs int64
	HashTimeNs   int64
}

// TrieCommitter manages the trie commit pipeline with dirty tracking,
// reference counting, and batch writes. All methods are safe for concurrent use.
type TrieCommitter struct {
	mu     sync.Mutex
	nodeDB *NodeDatabase

	// Reference counting for GC: how many trie roots reference each node,
	// keyed by the node's content hash (not its storage key, since the same
	// node content can be reachable from different paths across commits is
	// not expected here, but the hash is what callers reason about).
	refsMu sync.RWMutex
	refs   map[types.Hash]int32

	// Accumulated metrics across all commits.
	totalNodes   atomic.Int64
	totalBytes   atomic.Int64
	totalCommits atomic.Int64
}

// NewTrieCommitter creates a new committer backed by the given node database.
func NewTrieCommitter(db *NodeDatabase) *TrieCommitter {
	return &TrieCommitter{
		nodeDB: db,
		refs:   make(map[types.Hash]int32),
	}
}

// Commit hashes and stores all dirty nodes from the trie into the node
// database. Returns the root hash and commit metrics.
func (tc *TrieCommitter) Commit(t *Trie) (types.Hash, *CommitMetrics, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	metrics := &CommitMetrics{}
	dirtyBefore := tc.nodeDB.DirtyCount()
	metrics.DirtyBefore = int64(dirtyBefore)

	if t.root == nil {
		metrics.DirtyAfter = int64(tc.nodeDB.DirtyCount())
		return emptyRoot, metrics, nil
	}

	hashStart := time.Now()
	_ = t.Hash()
	metrics.HashTimeNs = time.Since(hashStart).Nanoseconds()

	commitStart := time.Now()
	collector := &commitCollector{}
	hashed, cached, err := tc.commitRecursive(t.root, nil, collector)
	if err != nil {
		return types.Hash{}, metrics, err
	}
	t.root = cached

	for _, cn := range collector.nodes {
		tc.nodeDB.InsertNode(cn.path, hashNode(cn.hash[:]), cn.data)
		tc.addRef(cn.hash)
	}

	metrics.CommitTimeNs = time.Since(commitStart).Nanoseconds()
	metrics.NodesWritten = int64(len(collector.nodes))
	for _, cn := range collector.nodes {
		metrics.BytesFlushed += int64(len(cn.data))
	}
	metrics.DirtyAfter = int64(tc.nodeDB.DirtyCount())

	hn, ok := hashed.(hashNode)
	if !ok {
		return types.Hash{}, metrics, errCommitRootNotHash
	}
	rootHash := types.BytesToHash(hn)

	tc.totalNodes.Add(metrics.NodesWritten)
	tc.totalBytes.Add(metrics.BytesFlushed)
	tc.totalCommits.Add(1)

	return rootHash, metrics, nil
}

// CommitResolvable commits a resolvable (database-backed) trie.
func (tc *TrieCommitter) CommitResolvable(t *ResolvableTrie) (types.Hash, *CommitMetrics, error) {
	return tc.Commit(&t.Trie)
}

// Flush writes all dirty nodes from the node database to the given writer,
// clearing the dirty cache. Returns the number of nodes flushed.
func (tc *TrieCommitter) Flush(writer NodeWriter) (int, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	count := tc.nodeDB.DirtyCount()
	err := tc.nodeDB.Commit(writer)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Dereference decrements the reference count for the given root hash. When
// a node's reference count drops to zero, it becomes eligible for garbage
// collection.
func (tc *TrieCommitter) Dereference(root types.Hash) []types.Hash {
	tc.refsMu.Lock()
	defer tc.refsMu.Unlock()

	var freed []types.Hash
	if root == emptyRoot || root.IsZero() {
		return freed
	}

	tc.refs[root]--
	if tc.refs[root] <= 0 {
		delete(tc.refs, root)
		freed = append(freed, root)
	}
	return freed
}

// RefCount returns the current reference count for a node hash.
func (tc *TrieCommitter) RefCount(hash types.Hash) int32 {
	tc.refsMu.RLock()
	defer tc.refsMu.RUnlock()
	return tc.refs[hash]
}

// TotalMetrics returns accumulated metrics across all commits.
func (tc *TrieCommitter) TotalMetrics() (nodes, bytesWritten, commits int64) {
	return tc.totalNodes.Load(), tc.totalBytes.Load(), tc.totalCommits.Load()
}

// DirtyCount returns the number of uncommitted nodes in the backing database.
func (tc *TrieCommitter) DirtyCount() int {
	return tc.nodeDB.DirtyCount()
}

// DirtySize returns the total byte size of uncommitted nodes.
func (tc *TrieCommitter) DirtySize() int {
	return tc.nodeDB.DirtySize()
}

// addRef increments the reference count for a node hash.
func (tc *TrieCommitter) addRef(hash types.Hash) {
	tc.refsMu.Lock()
	defer tc.refsMu.Unlock()
	tc.refs[hash]++
}

// commitCollector gathers nodes to write during a commit.
type commitCollector struct {
	nodes []collectedNode
}

type collectedNode struct {
	path []byte // nibble path from the trie root to this node
	hash types.Hash
	data []byte
}

var errCommitRootNotHash = errCommitRoot{}

type errCommitRoot struct{}

func (errCommitRoot) Error() string { return "trie: commit did not produce a root hash" }

// commitRecursive recursively hashes and collects every dirty node, keyed
// by its nibble path from the root (see prefixedKey in database.go). Nodes
// that are already clean (not dirty) with a cached hash already present in
// the nodeDB are skipped, avoiding redundant writes on re-commits.
func (tc *TrieCommitter) commitRecursive(n node, path []byte, collector *commitCollector) (node, node, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil, nil
	case hashNode:
		return n, n, nil

	case *leafNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			if _, err := tc.nodeDB.Node(path, hash); err == nil {
				return hash, n, nil
			}
		}
		enc, err := encodeNode(n)
		if err != nil {
			return nil, nil, err
		}
		hash := hashNode(crypto.Keccak256(enc))
		collector.nodes = append(collector.nodes, collectedNode{path: append([]byte{}, path...), hash: types.BytesToHash(hash), data: enc})
		cached := n.copy()
		cached.flags = nodeFlag{hash: hash, dirty: false}
		return hash, cached, nil

	case *extensionNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			if _, err := tc.nodeDB.Node(path, hash); err == nil {
				return hash, n, nil
			}
		}
		childPath := concat(path, n.Key)
		childH, childC, err := tc.commitRecursive(n.Val, childPath, collector)
		if err != nil {
			return nil, nil, err
		}
		collapsed := &extensionNode{Key: n.Key, Val: childH}
		enc, err := encodeNode(collapsed)
		if err != nil {
			return nil, nil, err
		}
		hash := hashNode(crypto.Keccak256(enc))
		collector.nodes = append(collector.nodes, collectedNode{path: append([]byte{}, path...), hash: types.BytesToHash(hash), data: enc})
		cached := &extensionNode{Key: n.Key, Val: childC, flags: nodeFlag{hash: hash, dirty: false}}
		return hash, cached, nil

	case *branchNode:
		if hash, dirty := n.cache(); hash != nil && !dirty {
			if _, err := tc.nodeDB.Node(path, hash); err == nil {
				return hash, n, nil
			}
		}
		collapsed := &branchNode{Value: n.Value}
		cached := &branchNode{Value: n.Value}
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			childPath := concat(path, []byte{byte(i)})
			childH, childC, err := tc.commitRecursive(n.Children[i], childPath, collector)
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
		collector.nodes = append(collector.nodes, collectedNode{path: append([]byte{}, path...), hash: types.BytesToHash(hash), data: enc})
		cached.flags = nodeFlag{hash: hash, dirty: false}
		return hash, cached, nil
	}
	return n, n, nil
}

// BatchWriter implements NodeWriter and buffers writes for batch flushing.
type BatchWriter struct {
	mu      sync.Mutex
	nodes   map[string][]byte
	maxSize int
	size    int
}

// NewBatchWriter creates a batch writer with the given maximum buffer size.
// When the buffer exceeds maxSize, a flush should be triggered.
func NewBatchWriter(maxSize int) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 16 * 1024 * 1024 // 16 MiB default
	}
	return &BatchWriter{
		nodes:   make(map[string][]byte),
		maxSize: maxSize,
	}
}

// Put stores a node in the batch buffer, keyed by its prefixed storage key.
func (bw *BatchWriter) Put(key, data []byte) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	k := string(key)
	if _, exists := bw.nodes[k]; !exists {
		bw.size += len(data) + len(key)
	}
	bw.nodes[k] = cp
	return nil
}

// FlushTo writes all buffered nodes to the target writer.
func (bw *BatchWriter) FlushTo(target NodeWriter) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	count := 0
	for key, data := range bw.nodes {
		if err := target.Put([]byte(key), data); err != nil {
			return count, err
		}
		count++
	}
	bw.nodes = make(map[string][]byte)
	bw.size = 0
	return count, nil
}

// Size returns the current buffered data size in bytes.
func (bw *BatchWriter) Size() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.size
}

// NeedFlush returns true if the buffer exceeds the configured maximum.
func (bw *BatchWriter) NeedFlush() bool {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.size >= bw.maxSize
}

// Count returns the number of buffered nodes.
func (bw *BatchWriter) Count() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.nodes)
}
