package manifest

import "github.com/INLOpen/strata/omap"

// RootAuthority supplies the current root of the ordered map. Remote readers
// obtain it from the manifest server; a local instance can use the live map
// itself. Root sequences are assumed to be non-zero once the map has ever
// been written.
type RootAuthority interface {
	CurrentRoot() (omap.Root, error)
}

// CompactionExecutor receives the candidate set selected for the next
// compaction. AddCandidate is called once per input segment, upper level
// first; Describe follows with the compaction's shape.
type CompactionExecutor interface {
	AddCandidate(e Entry) error
	Describe(level, maxLevel int, sticky bool)
}
