// Package diff implements the structural diff engine of spec section
// 4.5: a Myers O((N+M)D) shortest-edit-script over an ordered old/new
// type list, followed by a field-level diff for types whose identity
// (Guid) survives but whose shape changed.
//
// Grounded on mun_memory::diff::myers, whose expected behavior is
// pinned by original_source/crates/mun_memory/tests/diff/myers.rs
// (add/remove/reorder cases) and
// original_source/crates/mun_memory/tests/diff.rs. The shortest-edit-
// script algorithm itself is the classic Myers 1986 diff, the same
// family of algorithm used by text diff tools; this file is a from-
// scratch Go implementation (no diff library in the retrieval pack
// covers non-text sequences), see DESIGN.md.
package diff

// sesOpKind is the kind of a single-sequence-alignment edit: keeping
// an element (it's in both sequences, in order), deleting one from
// the old sequence, or inserting one from the new sequence.
type sesOpKind int

const (
	sesKeep sesOpKind = iota
	sesDelete
	sesInsert
)

type sesOp struct {
	kind sesOpKind
	oldIndex int // valid for sesKeep, sesDelete
	newIndex int // valid for sesKeep, sesInsert
}

// myersSES computes the shortest edit script that transforms a
// sequence of length n into one of length m, where equal(i, j)
// reports whether old[i] and new[j] should be considered the same
// element for alignment purposes. It returns the script as a list of
// keep/delete/insert operations in old-then-new traversal order.
//
// This is the standard O((N+M)D) Myers algorithm: forward search over
// "snakes" (diagonals k = i-j) recording, for each number of edits D,
// the furthest-reaching x coordinate reachable using D edits, then
// backtracking from the first D that reaches the corner (n, m).
func myersSES(n, m int, equal func(i, j int) bool) []sesOp {
	if n == 0 && m == 0 {
		return nil
	}
	max := n + m
	// v[d][k] stored as a flat map keyed by k, offset by max, one
	// slice per value of d so we can backtrack afterwards.
	trace := make([][]int, 0, max+1)
	v := make([]int, 2*max+1)
	offset := max

	found := false
	var foundD int
	for d := 0; d <= max && !found; d++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && equal(x, y) {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				found = true
				foundD = d
			}
		}
	}

	// Backtrack from (n, m) through the recorded traces to recover
	// the path, then reverse it into forward order.
	var ops []sesOp
	x, y := n, m
	for d := foundD; d > 0; d-- {
		vv := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && vv[offset+k-1] < vv[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := vv[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			ops = append(ops, sesOp{kind: sesKeep, oldIndex: x - 1, newIndex: y - 1})
			x--
			y--
		}
		if x == prevX {
			ops = append(ops, sesOp{kind: sesInsert, newIndex: prevY})
		} else {
			ops = append(ops, sesOp{kind: sesDelete, oldIndex: prevX})
		}
		x, y = prevX, prevY
	}
	for x > 0 && y > 0 {
		ops = append(ops, sesOp{kind: sesKeep, oldIndex: x - 1, newIndex: y - 1})
		x--
		y--
	}

	// ops was built backwards; reverse it.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}
