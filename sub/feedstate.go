package sub

import (
	"time"

	"github.com/podqueue/podqueue/model"
)

// FeedState holds everything podqueue knows about one feed: the entries
// from the last successful fetch, which of them have been downloaded, the
// pending download queue, and the conditional-fetch validators.
//
// Entries are ordered newest first, as returned by the source. Status keys
// and queue indices live in age-from-oldest space: status keys are
// zero-based, queue indices are 1-based. LatestEntryNumber is a watermark
// count (not an index) of oldest-to-newest entries already accounted for;
// nil until the first successful update, and monotonically non-decreasing
// afterwards.
type FeedState struct {
	Entries           []model.Entry
	EntriesStatus     map[int]bool
	Queue             []model.QueueItem
	LatestEntryNumber *int
	ETag              string
	LastModified      *time.Time
}

// NewFeedState creates an empty FeedState.
func NewFeedState() *FeedState {
	return &FeedState{
		EntriesStatus: make(map[int]bool),
	}
}

// Queued reports whether the 1-based index is already in the queue.
func (fs *FeedState) Queued(index int) bool {
	for _, item := range fs.Queue {
		if item.Index == index {
			return true
		}
	}
	return false
}

// PushBack appends an item to the queue.
func (fs *FeedState) PushBack(item model.QueueItem) {
	fs.Queue = append(fs.Queue, item)
}

// PushFront puts an item at the head of the queue, ahead of everything
// already pending.
func (fs *FeedState) PushFront(item model.QueueItem) {
	fs.Queue = append([]model.QueueItem{item}, fs.Queue...)
}

// PopFront removes and returns the head of the queue.
func (fs *FeedState) PopFront() (model.QueueItem, bool) {
	if len(fs.Queue) == 0 {
		return model.QueueItem{}, false
	}
	item := fs.Queue[0]
	fs.Queue = fs.Queue[1:]
	return item, true
}

// AdvanceWatermark raises LatestEntryNumber to n if that is an increase.
// The watermark never regresses.
func (fs *FeedState) AdvanceWatermark(n int) {
	if fs.LatestEntryNumber == nil || n > *fs.LatestEntryNumber {
		fs.LatestEntryNumber = &n
	}
}
