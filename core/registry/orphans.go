package registry

import "sort"

// SentinelKey is the key of the distinguished head/tail node of the on-chain
// sorted list. As a successor reference it denotes the wrap back to the
// sentinel, which makes it the highest possible bound; as a node key it sorts
// before every real policy id.
const SentinelKey = ""

// Orphans computes which active keys were implicitly unlinked by a successor
// rewrite. When a node's successor pointer moves from oldNext to newNext, the
// chain loses exactly the nodes from oldNext up to but excluding newNext
// under byte-lexicographic order, because the list's total order is strictly
// monotonic and only one edge is rewritten per transaction. An insertion
// (newNext sorting before oldNext) therefore unlinks nothing.
//
// The function is pure: it performs no I/O and does not mutate activeKeys.
// The returned keys are sorted ascending.
func Orphans(oldNext, newNext string, activeKeys []string) []string {
	if oldNext == newNext {
		return nil
	}
	var out []string
	for _, key := range activeKeys {
		if key == SentinelKey {
			continue
		}
		if unlinked(key, oldNext, newNext) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// unlinked reports whether key falls in the half-open interval
// [oldNext, newNext). A sentinel bound wraps: as oldNext it sits above every
// key (nothing follows the tail), as newNext it admits every key at or after
// oldNext.
func unlinked(key, oldNext, newNext string) bool {
	if oldNext == SentinelKey {
		return false
	}
	if key < oldNext {
		return false
	}
	if newNext == SentinelKey {
		return true
	}
	return key < newNext
}
