package core

import "bytes"

// Keys are opaque byte strings ordered lexicographically. A nil "end" bound
// means "past every key"; concrete keys are never nil.

// Compare orders two keys lexicographically.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareToEnd orders key k against an inclusive range end, where a nil end
// is treated as greater than every key.
func CompareToEnd(k, end []byte) int {
	if end == nil {
		return -1
	}
	return bytes.Compare(k, end)
}

// CompareRanges orders two inclusive key ranges. It returns 0 when the
// ranges intersect, a negative value when [aFirst,aLast] lies entirely
// before [bFirst,bLast], and a positive value when it lies entirely after.
func CompareRanges(aFirst, aLast, bFirst, bLast []byte) int {
	if bytes.Compare(aLast, bFirst) < 0 {
		return -1
	}
	if bytes.Compare(aFirst, bLast) > 0 {
		return 1
	}
	return 0
}

// RangeContains reports whether k falls within the inclusive range
// [first,last].
func RangeContains(first, last, k []byte) bool {
	return bytes.Compare(first, k) <= 0 && bytes.Compare(k, last) <= 0
}

// CloneKey returns an independent copy of k. A nil key stays nil.
func CloneKey(k []byte) []byte {
	if k == nil {
		return nil
	}
	return append([]byte(nil), k...)
}

// NextKey returns the immediate lexicographic successor of k: the smallest
// key strictly greater than k.
func NextKey(k []byte) []byte {
	next := make([]byte, len(k)+1)
	copy(next, k)
	return next
}
