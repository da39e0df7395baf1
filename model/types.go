// Package model defines the core data structures for podqueue.
package model

import "errors"

// Entry represents a single feed entry with its downloadable enclosures.
// Entries are immutable once parsed; each successful fetch rebuilds the
// whole entry list, newest first.
type Entry struct {
	Title string   `cbor:"title"`
	URLs  []string `cbor:"urls"`
}

// Validate checks if the entry has at least one enclosure URL.
func (e *Entry) Validate() error {
	if len(e.URLs) == 0 {
		return errors.New("entry has no enclosure URLs")
	}
	return nil
}

// QueueItem is one pending download job. Index is 1-based in
// age-from-oldest space: index 1 is the oldest entry in the feed.
type QueueItem struct {
	_         struct{} `cbor:",toarray"`
	Index     int
	Overwrite bool
}

// UpdateResult describes the outcome of a subscription update attempt.
type UpdateResult int

const (
	// ResultSuccess means the feed was retrieved and entries were loaded.
	ResultSuccess UpdateResult = iota
	// ResultUnneeded means a conditional fetch confirmed nothing changed.
	ResultUnneeded
	// ResultFailure means the attempt is over and nothing was loaded.
	ResultFailure
	// ResultAttemptAgain means the fetch should be retried, possibly with
	// an adjusted URL.
	ResultAttemptAgain
)

// String returns a human-readable name for the result.
func (r UpdateResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultUnneeded:
		return "unneeded"
	case ResultFailure:
		return "failure"
	case ResultAttemptAgain:
		return "attempt-again"
	default:
		return "unknown"
	}
}
