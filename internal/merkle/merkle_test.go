package merkle

import "testing"

func TestBuildTree_Empty(t *testing.T) {
	if BuildTree(nil) != EmptyMerkleRoot {
		t.Errorf("expected sentinel root for empty leaves")
	}
}

func TestBuildTree_Deterministic(t *testing.T) {
	leaves := []string{
		"sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
	}
	root1 := BuildTree(leaves)
	root2 := BuildTree(leaves)
	if root1 != root2 {
		t.Fatal("expected identical root across runs")
	}

	h12 := combine(leaves[0], leaves[1])
	h33 := combine(leaves[2], leaves[2])
	expected := combine(h12, h33)
	if root1 != expected {
		t.Errorf("root = %s, want %s", root1, expected)
	}
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	leaf := "sha256:1111111111111111111111111111111111111111111111111111111111111111"
	if BuildTree([]string{leaf}) != leaf {
		t.Error("single-leaf tree should equal that leaf")
	}
}

func TestBuildTree_EvenCount(t *testing.T) {
	a := "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	b := "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	root := BuildTree([]string{a, b})
	if root != combine(a, b) {
		t.Error("two-leaf tree should be a single combine")
	}
}
