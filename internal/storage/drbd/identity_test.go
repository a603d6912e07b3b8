package drbd

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestAllocateMinorPicksSmallestFreeAtOrAboveFloor(t *testing.T) {
	assert.Equal(t, AllocateMinor(nil), InitialMinorID)
	assert.Equal(t, AllocateMinor([]int{1, 2, 4}), 3)
	assert.Equal(t, AllocateMinor([]int{1, 2, 3}), 4)
}

func TestAllocatePortPicksSmallestFreeAtOrAboveFloor(t *testing.T) {
	assert.Equal(t, AllocatePort(nil), InitialPort)
	assert.Equal(t, AllocatePort([]int{7789, 7790}), 7791)
}

func TestUnionUsedDeduplicatesAcrossPeers(t *testing.T) {
	out := UnionUsed([]int{1, 2}, []int{2, 3}, []int{3, 4})
	assert.DeepEqual(t, out, []int{1, 2, 3, 4})
}

func TestAllocateMinorConsidersUnionedPeerSet(t *testing.T) {
	local := []int{1}
	remote := []int{2, 3}
	used := UnionUsed(local, remote)
	assert.Equal(t, AllocateMinor(used), 4)
}
