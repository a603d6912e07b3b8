package drbd

// AllocateMinor picks the smallest free minor at or above
// InitialMinorID given the union of every peer's used minors, per
// §4.7's identity allocation rule.
func AllocateMinor(used []int) int {
	return smallestFreeAtOrAbove(used, InitialMinorID)
}

// AllocatePort picks the smallest free port at or above InitialPort,
// same rule as AllocateMinor.
func AllocatePort(used []int) int {
	return smallestFreeAtOrAbove(used, InitialPort)
}

func smallestFreeAtOrAbove(used []int, floor int) int {
	taken := make(map[int]bool, len(used))
	for _, v := range used {
		taken[v] = true
	}
	for candidate := floor; ; candidate++ {
		if !taken[candidate] {
			return candidate
		}
	}
}

// UnionUsed merges the local node's used values with every peer's
// reported set (from the getUsedDrbdMinors/getUsedDrbdPorts dispatcher
// actions), deduplicating.
func UnionUsed(local []int, remote ...[]int) []int {
	seen := map[int]bool{}
	var out []int
	add := func(v int) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range local {
		add(v)
	}
	for _, set := range remote {
		for _, v := range set {
			add(v)
		}
	}
	return out
}
