// Copyright 2025 Certen Protocol
//
// Merkle Tree Tests

package merkle

import (
	"bytes"
	"testing"

	"github.com/aureum-chain/aureum-node/pkg/crypto"
)

func leafOf(b byte) []byte {
	return crypto.Keccak256([]byte{b})
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	leaf := leafOf(1)
	tree, err := BuildTree([][]byte{leaf})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	if !bytes.Equal(tree.Root(), leaf) {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), leaf)
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count mismatch: got %d, want 1", tree.LeafCount())
	}
}

func TestBuildTree_TwoLeaves(t *testing.T) {
	leaf1 := leafOf(1)
	leaf2 := leafOf(2)

	tree, err := BuildTree([][]byte{leaf1, leaf2})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	expectedRoot := crypto.Keccak256(leaf1, leaf2)
	if !bytes.Equal(tree.Root(), expectedRoot) {
		t.Errorf("two leaf root mismatch: got %x, want %x", tree.Root(), expectedRoot)
	}
}

func TestBuildTree_ThreeLeavesRightDuplicates(t *testing.T) {
	leaf1, leaf2, leaf3 := leafOf(1), leafOf(2), leafOf(3)

	tree, err := BuildTree([][]byte{leaf1, leaf2, leaf3})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	left := crypto.Keccak256(leaf1, leaf2)
	right := crypto.Keccak256(leaf3, leaf3) // odd node duplicated
	expectedRoot := crypto.Keccak256(left, right)

	if !bytes.Equal(tree.Root(), expectedRoot) {
		t.Errorf("three leaf root mismatch: got %x, want %x", tree.Root(), expectedRoot)
	}
}

func TestBuildTree_EmptyRejected(t *testing.T) {
	if _, err := BuildTree(nil); err != ErrEmptyTree {
		t.Errorf("expected ErrEmptyTree, got %v", err)
	}
}

func TestBuildTree_InvalidLeafSize(t *testing.T) {
	if _, err := BuildTree([][]byte{{1, 2, 3}}); err == nil {
		t.Error("expected error for non-32-byte leaf")
	}
}

func TestTxMerkleRoot_Empty(t *testing.T) {
	root, err := TxMerkleRoot(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root != EmptyRoot {
		t.Errorf("expected empty root %q, got %q", EmptyRoot, root)
	}
}

func TestTxMerkleRoot_Deterministic(t *testing.T) {
	hashes := [][]byte{leafOf(1), leafOf(2), leafOf(3), leafOf(4)}
	r1, err := TxMerkleRoot(hashes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := TxMerkleRoot(hashes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1 != r2 {
		t.Errorf("merkle root not deterministic: %q vs %q", r1, r2)
	}
}
