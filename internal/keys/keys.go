package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.

// History is the LIST of encoded history records, newest first.
func History(name string) string { return "fileq:{" + name + "}:history" }

// Counts is the HASH of finished-task counters keyed by final status.
func Counts(name string) string { return "fileq:{" + name + "}:counts" }

// Engine holds all precomputed keys for an engine name to avoid repeated concatenations.
type Engine struct {
	History string
	Counts  string
}

// For returns a set of precomputed keys for the provided engine name.
func For(name string) Engine {
	prefix := "fileq:{" + name + "}:"
	return Engine{
		History: prefix + "history",
		Counts:  prefix + "counts",
	}
}
