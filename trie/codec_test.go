package trie

import (
	"bytes"
	"testing"

	"github.com/wdnprotocol/wdnd/crypto"
)

func TestEmptyNodeEncoding(t *testing.T) {
	if !bytes.Equal(emptyNodeEncoding, []byte{0x00}) {
		t.Fatalf("emptyNodeEncoding = %x, want [0x00]", emptyNodeEncoding)
	}
	enc, err := encodeNode(nil)
	if err != nil {
		t.Fatalf("encodeNode(nil): %v", err)
	}
	if !bytes.Equal(enc, emptyNodeEncoding) {
		t.Fatalf("encodeNode(nil) = %x, want %x", enc, emptyNodeEncoding)
	}
}

func TestHashedNullNode(t *testing.T) {
	want := crypto.Keccak256(emptyNodeEncoding)
	got := hashedNullNode()
	if !bytes.Equal(got, want) {
		t.Fatalf("hashedNullNode() = %x, want keccak256([0x00]) = %x", got, want)
	}
}

func TestCodecRoundTripLeaf(t *testing.T) {
	cases := []struct {
		name   string
		nibble []byte
		val    []byte
	}{
		{"empty key", []byte{}, []byte("value")},
		{"even nibbles", []byte{0x1, 0x2, 0x3, 0x4}, []byte("even")},
		{"odd nibbles", []byte{0x1, 0x2, 0x3}, []byte("odd")},
		{"empty value", []byte{0xa, 0xb}, []byte{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n := &leafNode{Key: c.nibble, Val: valueNode(c.val)}
			enc, err := encodeNode(n)
			if err != nil {
				t.Fatalf("encodeNode: %v", err)
			}
			decoded, err := decodeNode(nil, enc)
			if err != nil {
				t.Fatalf("decodeNode: %v", err)
			}
			dl, ok := decoded.(*leafNode)
			if !ok {
				t.Fatalf("decoded type = %T, want *leafNode", decoded)
			}
			if !keysEqual(dl.Key, c.nibble) {
				t.Fatalf("decoded Key = %v, want %v", dl.Key, c.nibble)
			}
			if !bytes.Equal(dl.Val, c.val) {
				t.Fatalf("decoded Val = %q, want %q", dl.Val, c.val)
			}
		})
	}
}

func TestCodecRoundTripExtension(t *testing.T) {
	childHash := hashNode(crypto.Keccak256([]byte("child")))
	cases := []struct {
		name   string
		nibble []byte
	}{
		{"even nibbles", []byte{0x1, 0x2}},
		{"odd nibbles", []byte{0x1, 0x2, 0x3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n := &extensionNode{Key: c.nibble, Val: childHash}
			enc, err := encodeNode(n)
			if err != nil {
				t.Fatalf("encodeNode: %v", err)
			}
			decoded, err := decodeNode(nil, enc)
			if err != nil {
				t.Fatalf("decodeNode: %v", err)
			}
			de, ok := decoded.(*extensionNode)
			if !ok {
				t.Fatalf("decoded type = %T, want *extensionNode", decoded)
			}
			if !keysEqual(de.Key, c.nibble) {
				t.Fatalf("decoded Key = %v, want %v", de.Key, c.nibble)
			}
			dh, ok := de.Val.(hashNode)
			if !ok {
				t.Fatalf("decoded Val type = %T, want hashNode", de.Val)
			}
			if !bytes.Equal(dh, childHash) {
				t.Fatalf("decoded child hash = %x, want %x", dh, childHash)
			}
		})
	}
}

func TestCodecRoundTripBranch(t *testing.T) {
	childHash := hashNode(crypto.Keccak256([]byte("child")))

	t.Run("no value, one child", func(t *testing.T) {
		n := &branchNode{}
		n.Children[5] = childHash
		enc, err := encodeNode(n)
		if err != nil {
			t.Fatalf("encodeNode: %v", err)
		}
		decoded, err := decodeNode(nil, enc)
		if err != nil {
			t.Fatalf("decodeNode: %v", err)
		}
		db, ok := decoded.(*branchNode)
		if !ok {
			t.Fatalf("decoded type = %T, want *branchNode", decoded)
		}
		if db.Value != nil {
			t.Fatalf("decoded Value = %v, want nil", db.Value)
		}
		for i := 0; i < 16; i++ {
			if i == 5 {
				continue
			}
			if db.Children[i] != nil {
				t.Fatalf("decoded Children[%d] = %v, want nil", i, db.Children[i])
			}
		}
		got, ok := db.Children[5].(hashNode)
		if !ok || !bytes.Equal(got, childHash) {
			t.Fatalf("decoded Children[5] = %v, want %x", db.Children[5], childHash)
		}
	})

	t.Run("with value, multiple children", func(t *testing.T) {
		n := &branchNode{Value: valueNode("branch value")}
		n.Children[0] = childHash
		n.Children[15] = childHash
		enc, err := encodeNode(n)
		if err != nil {
			t.Fatalf("encodeNode: %v", err)
		}
		decoded, err := decodeNode(nil, enc)
		if err != nil {
			t.Fatalf("decodeNode: %v", err)
		}
		db, ok := decoded.(*branchNode)
		if !ok {
			t.Fatalf("decoded type = %T, want *branchNode", decoded)
		}
		if !bytes.Equal(db.Value, []byte("branch value")) {
			t.Fatalf("decoded Value = %q, want %q", db.Value, "branch value")
		}
		for _, idx := range []int{0, 15} {
			got, ok := db.Children[idx].(hashNode)
			if !ok || !bytes.Equal(got, childHash) {
				t.Fatalf("decoded Children[%d] = %v, want %x", idx, db.Children[idx], childHash)
			}
		}
	})
}

func TestDecodeNodeEmptyInput(t *testing.T) {
	if _, err := decodeNode(nil, nil); err == nil {
		t.Fatal("decodeNode(nil, nil) should fail on empty input")
	}
}

func TestDecodeNodeTruncatedLeaf(t *testing.T) {
	// Header claims 4 nibbles (2 packed bytes) but only 1 byte follows.
	if _, err := decodeNode(nil, []byte{headerLeafMin + 4, 0xab}); err == nil {
		t.Fatal("decodeNode should fail on a truncated leaf path")
	}
}

func TestPackUnpackNibblesRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x1},
		{0x1, 0x2},
		{0x1, 0x2, 0x3},
		{0xf, 0x0, 0xa, 0xb, 0xc},
	}
	for _, nibbles := range cases {
		packed := packNibbles(nibbles)
		got := unpackNibbles(packed, len(nibbles))
		if !keysEqual(got, nibbles) {
			t.Fatalf("unpackNibbles(packNibbles(%v)) = %v, want %v", nibbles, got, nibbles)
		}
	}
}
