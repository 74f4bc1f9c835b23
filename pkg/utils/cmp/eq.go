package cmp

// a == b as BiPredicator function
func EqEq[T comparable](a, b T) bool {
	return a == b
}

// *a == *b, treating two nils as equal
func PEqEq[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func PEqualWith[T any](a, b *T, pred func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return pred(*a, *b)
}
