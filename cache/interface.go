package cache

import "github.com/INLOpen/strata/core"

// Interface is the item cache that manifest read resolution populates.
type Interface interface {
	// InsertBatch stores items and records [start,end] as a fully cached
	// range: every key in it either appears in items or is known absent.
	// It returns core.ErrNoSpace when the batch cannot be admitted.
	InsertBatch(items []core.Item, start, end []byte) error
}
