// Package either provides a two-variant result type and a router stage that splits
// one stream into two typed streams by classification.
package either

// Either holds exactly one of a Left or a Right value. By convention Right is the
// pass-through (allowed, matched) variant and Left the diverted one.
type Either[L, R any] struct {
	left    L
	right   R
	isRight bool
}

// Left builds a left-classified value.
func Left[L, R any](value L) Either[L, R] {
	return Either[L, R]{left: value}
}

// Right builds a right-classified value.
func Right[L, R any](value R) Either[L, R] {
	return Either[L, R]{right: value, isRight: true}
}

// IsRight reports whether e holds a Right value.
func (e Either[L, R]) IsRight() bool {
	return e.isRight
}

// Left returns the left value and whether e holds one.
func (e Either[L, R]) Left() (L, bool) {
	return e.left, !e.isRight
}

// Right returns the right value and whether e holds one.
func (e Either[L, R]) Right() (R, bool) {
	return e.right, e.isRight
}

// Fold reduces e with the function matching its variant.
func Fold[L, R, T any](e Either[L, R], onLeft func(L) T, onRight func(R) T) T {
	if e.isRight {
		return onRight(e.right)
	}
	return onLeft(e.left)
}

// Classifier assigns every element to exactly one output.
type Classifier[A, L, R any] func(A) Either[L, R]

// Match classifies by type assertion plus predicate: elements that are a B and
// satisfy pred go right, everything else goes left unchanged. A nil pred accepts
// every B.
func Match[A, B any](pred func(B) bool) Classifier[A, A, B] {
	return func(a A) Either[A, B] {
		if b, ok := any(a).(B); ok && (pred == nil || pred(b)) {
			return Right[A](b)
		}
		return Left[A, B](a)
	}
}
