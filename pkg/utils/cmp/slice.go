package cmp

func SliceEq[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for nth, va := range a {
		if va != b[nth] {
			return false
		}
	}
	return true
}

func SliceEqWith[T any, U any](a []T, b []U, pred func(a T, b U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !pred(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// SliceContentEq checks two slices hold the same multiset of elements,
// ignoring ordering.
func SliceContentEq[T comparable](a []T, b []T) bool {
	return SliceContentEqWith(a, b, func(x, y T) bool { return x == y })
}

// SliceContentEqWith is SliceContentEq in some equivalency given as pred.
func SliceContentEqWith[T any, U any](a []T, b []U, pred func(a T, b U) bool) bool {
	if len(a) != len(b) {
		return false
	}

	used := make([]bool, len(b))
	for _, va := range a {
		found := false
		for nth, vb := range b {
			if used[nth] {
				continue
			}
			if pred(va, vb) {
				used[nth] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
