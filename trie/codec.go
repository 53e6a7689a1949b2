package trie

import (
	"encoding/binary"
	"fmt"
)

// Node header byte scheme (data model §3):
//
//	0x00         empty
//	[0x01,0x7F]  leaf, header-1 nibbles of partial path (max 126 nibbles)
//	[0x80,0xFD]  extension, header-128 nibbles of partial path
//	0xFE         branch without inline value
//	0xFF         branch with inline value
const (
	headerEmpty           = 0x00
	headerLeafMin         = 0x01
	headerLeafMax         = 0x7F
	headerExtensionMin    = 0x80
	headerExtensionMax    = 0xFD
	headerBranchNoValue   = 0xFE
	headerBranchWithValue = 0xFF

	maxLeafNibbles      = headerLeafMax - headerLeafMin          // 126
	maxExtensionNibbles = headerExtensionMax - headerExtensionMin // 125
)

// emptyNodeEncoding is the canonical encoding of the empty trie node.
var emptyNodeEncoding = []byte{headerEmpty}

// putUvarint appends a compact unsigned varint (LEB128-style, 7 data bits
// per byte, high bit signals continuation) to dst.
func putUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// getUvarint reads a compact unsigned varint from the start of b, returning
// the value and the number of bytes consumed.
func getUvarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, fmt.Errorf("trie: invalid varint length prefix")
	}
	return v, n, nil
}

// putLengthPrefixed appends a varint-length-prefixed blob to dst.
func putLengthPrefixed(dst []byte, blob []byte) []byte {
	dst = putUvarint(dst, uint64(len(blob)))
	return append(dst, blob...)
}

// getLengthPrefixed reads a varint-length-prefixed blob starting at b,
// returning the blob and the total number of bytes consumed (prefix+blob).
func getLengthPrefixed(b []byte) ([]byte, int, error) {
	l, n, err := getUvarint(b)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(l)
	if end > len(b) {
		return nil, 0, fmt.Errorf("trie: length-prefixed blob truncated")
	}
	return b[n:end], end, nil
}

// childrenBitmap returns the little-endian 16-bit bitmap of which of the 16
// children slots are non-nil.
func childrenBitmap(children [16]node) uint16 {
	var bm uint16
	for i, c := range children {
		if c != nil {
			bm |= 1 << uint(i)
		}
	}
	return bm
}

// encodeNode produces the canonical on-disk encoding of a node. Children and
// values must already be collapsed to hashNode/valueNode/nil by the caller
// (see hasher.go); encodeNode never recurses into un-collapsed subtrees.
func encodeNode(n node) ([]byte, error) {
	switch n := n.(type) {
	case nil:
		return emptyNodeEncoding, nil
	case *leafNode:
		return encodeLeaf(n.Key, n.Val)
	case *extensionNode:
		ref, err := nodeRefBytes(n.Val)
		if err != nil {
			return nil, err
		}
		return encodeExtension(n.Key, ref)
	case *branchNode:
		return encodeBranch(n)
	case hashNode:
		return []byte(n), nil
	default:
		return nil, fmt.Errorf("trie: cannot encode node of type %T", n)
	}
}

func encodeLeaf(nibbles []byte, val valueNode) ([]byte, error) {
	if len(nibbles) > maxLeafNibbles {
		return nil, fmt.Errorf("trie: leaf path too long (%d nibbles, max %d)", len(nibbles), maxLeafNibbles)
	}
	out := []byte{byte(headerLeafMin + len(nibbles))}
	out = append(out, packNibbles(nibbles)...)
	out = putLengthPrefixed(out, val)
	return out, nil
}

func encodeExtension(nibbles []byte, childRef []byte) ([]byte, error) {
	if len(nibbles) > maxExtensionNibbles {
		return nil, fmt.Errorf("trie: extension path too long (%d nibbles, max %d)", len(nibbles), maxExtensionNibbles)
	}
	out := []byte{byte(headerExtensionMin + len(nibbles))}
	out = append(out, packNibbles(nibbles)...)
	out = putLengthPrefixed(out, childRef)
	return out, nil
}

func encodeBranch(n *branchNode) ([]byte, error) {
	var header byte = headerBranchNoValue
	if n.Value != nil {
		header = headerBranchWithValue
	}
	out := []byte{header}
	if n.Value != nil {
		out = putLengthPrefixed(out, n.Value)
	}
	bm := childrenBitmap(n.Children)
	var bmBuf [2]byte
	binary.LittleEndian.PutUint16(bmBuf[:], bm)
	out = append(out, bmBuf[:]...)
	for i := 0; i < 16; i++ {
		if n.Children[i] == nil {
			continue
		}
		ref, err := nodeRefBytes(n.Children[i])
		if err != nil {
			return nil, err
		}
		out = putLengthPrefixed(out, ref)
	}
	return out, nil
}

// nodeRefBytes returns the bytes to embed for a child reference: the hash
// bytes of a hashNode, the raw bytes of a valueNode, or the full encoding
// of any other node.
func nodeRefBytes(n node) ([]byte, error) {
	switch n := n.(type) {
	case nil:
		return nil, nil
	case hashNode:
		return []byte(n), nil
	case valueNode:
		return []byte(n), nil
	default:
		return encodeNode(n)
	}
}

// decodeNode decodes the on-disk encoding of a node. hash is the expected
// hash reference of this node, cached on the returned node's flags.
func decodeNode(hash hashNode, data []byte) (node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("trie: empty node encoding")
	}
	header := data[0]
	rest := data[1:]
	switch {
	case header == headerEmpty:
		return nil, nil
	case header >= headerLeafMin && header <= headerLeafMax:
		return decodeLeaf(hash, header, rest)
	case header >= headerExtensionMin && header <= headerExtensionMax:
		return decodeExtension(hash, header, rest)
	case header == headerBranchNoValue:
		return decodeBranch(hash, rest, false)
	case header == headerBranchWithValue:
		return decodeBranch(hash, rest, true)
	default:
		return nil, fmt.Errorf("trie: invalid node header byte 0x%02x", header)
	}
}

func decodeLeaf(hash hashNode, header byte, rest []byte) (node, error) {
	nibbleLen := int(header) - headerLeafMin
	packedLen := (nibbleLen + 1) / 2
	if len(rest) < packedLen {
		return nil, fmt.Errorf("trie: truncated leaf path")
	}
	key := unpackNibbles(rest[:packedLen], nibbleLen)
	val, _, err := getLengthPrefixed(rest[packedLen:])
	if err != nil {
		return nil, fmt.Errorf("trie: decode leaf value: %w", err)
	}
	return &leafNode{Key: key, Val: valueNode(val), flags: nodeFlag{hash: hash}}, nil
}

func decodeExtension(hash hashNode, header byte, rest []byte) (node, error) {
	nibbleLen := int(header) - headerExtensionMin
	packedLen := (nibbleLen + 1) / 2
	if len(rest) < packedLen {
		return nil, fmt.Errorf("trie: truncated extension path")
	}
	key := unpackNibbles(rest[:packedLen], nibbleLen)
	ref, _, err := getLengthPrefixed(rest[packedLen:])
	if err != nil {
		return nil, fmt.Errorf("trie: decode extension child: %w", err)
	}
	return &extensionNode{Key: key, Val: decodeRef(ref), flags: nodeFlag{hash: hash}}, nil
}

func decodeBranch(hash hashNode, rest []byte, hasValue bool) (node, error) {
	n := &branchNode{flags: nodeFlag{hash: hash}}
	if hasValue {
		val, consumed, err := getLengthPrefixed(rest)
		if err != nil {
			return nil, fmt.Errorf("trie: decode branch value: %w", err)
		}
		n.Value = valueNode(val)
		rest = rest[consumed:]
	}
	if len(rest) < 2 {
		return nil, fmt.Errorf("trie: truncated branch bitmap")
	}
	bm := binary.LittleEndian.Uint16(rest[:2])
	rest = rest[2:]
	for i := 0; i < 16; i++ {
		if bm&(1<<uint(i)) == 0 {
			continue
		}
		ref, consumed, err := getLengthPrefixed(rest)
		if err != nil {
			return nil, fmt.Errorf("trie: decode branch child %d: %w", i, err)
		}
		n.Children[i] = decodeRef(ref)
		rest = rest[consumed:]
	}
	return n, nil
}

// decodeRef interprets a child reference: an empty reference is no child,
// and every non-empty reference is returned as a hashNode, whatever its
// length. The hasher and committer collapse children to 32-byte hashes
// before encoding, so this trie writes no inline child encodings.
func decodeRef(ref []byte) node {
	if len(ref) == 0 {
		return nil
	}
	return hashNode(ref)
}
