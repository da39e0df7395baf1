// Package sub implements the subscription aggregate: feed state, backlog
// selection, and the durable download queue for one podcast feed.
package sub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/podqueue/podqueue/feed"
	"github.com/podqueue/podqueue/model"
)

// ErrMalformedSubscription indicates a subscription could not be
// constructed, typically because the name or URL is missing.
var ErrMalformedSubscription = errors.New("malformed subscription")

// Recorder persists completed downloads for later summaries.
type Recorder interface {
	Record(subName, entryTitle, dest string, at time.Time) error
}

// Runtime carries the collaborators a subscription needs to update itself.
// They are bound separately from construction because cached subscriptions
// are decoded without them.
type Runtime struct {
	Retriever  *feed.Retriever
	Downloader feed.Downloader
	History    Recorder
	Persist    func()
	Log        *slog.Logger
}

// Subscription describes one podcast subscription: identity, download
// policy, and the feed state accumulated across updates.
//
// ProvidedURL is the URL as configured by the user and is never mutated by
// retrieval. CurrentURL is the resolved URL actually fetched; permanent
// redirects rewrite it and 401/410 responses clear it.
type Subscription struct {
	Name               string
	ProvidedURL        string
	CurrentURL         string
	Directory          string
	DownloadBacklog    bool
	BacklogLimit       *int
	UseTitleAsFilename bool
	FeedState          *FeedState

	rt             Runtime
	sessionSummary []string
}

// New creates a subscription from user-supplied identity. Name and URL are
// mandatory.
func New(name, url, directory string) (*Subscription, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: no URL provided", ErrMalformedSubscription)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: no name provided", ErrMalformedSubscription)
	}
	return &Subscription{
		Name:            name,
		ProvidedURL:     url,
		CurrentURL:      url,
		Directory:       directory,
		DownloadBacklog: true,
		FeedState:       NewFeedState(),
	}, nil
}

// Bind attaches runtime collaborators. Must be called before AttemptUpdate
// or DrainQueue.
func (s *Subscription) Bind(rt Runtime) {
	if rt.Log == nil {
		rt.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.rt = rt
	if s.FeedState == nil {
		s.FeedState = NewFeedState()
	}
	if s.FeedState.EntriesStatus == nil {
		s.FeedState.EntriesStatus = make(map[int]bool)
	}
}

// AttemptUpdate fetches the feed, selects new entries, and drains the
// download queue. The returned result reflects the retrieval outcome; a
// non-nil error carries detail for failure results.
func (s *Subscription) AttemptUpdate(ctx context.Context) (model.UpdateResult, error) {
	src := feed.Source{
		Name:         s.Name,
		CurrentURL:   s.CurrentURL,
		ETag:         s.FeedState.ETag,
		LastModified: s.FeedState.LastModified,
	}

	result, entries := s.rt.Retriever.GetFeed(ctx, &src)

	// URL and validator mutations stick regardless of outcome.
	s.CurrentURL = src.CurrentURL
	s.FeedState.ETag = src.ETag
	s.FeedState.LastModified = src.LastModified

	switch result {
	case model.ResultUnneeded:
		return result, nil
	case model.ResultSuccess:
		// Full replace; entry content is never merged incrementally.
		s.FeedState.Entries = entries
	default:
		return result, fmt.Errorf("could not retrieve feed for %q", s.Name)
	}

	s.rt.Log.Info("subscription got updated feed",
		"sub", s.Name, "entries", len(s.FeedState.Entries))

	items, err := planNewItems(s.FeedState, s.DownloadBacklog, s.BacklogLimit)
	if err != nil {
		return model.ResultFailure, fmt.Errorf("backlog planning for %q: %w", s.Name, err)
	}
	for _, item := range items {
		if !s.FeedState.Queued(item.Index) {
			s.FeedState.PushBack(item)
		}
	}

	if err := s.DrainQueue(ctx); err != nil {
		return model.ResultFailure, err
	}
	return model.ResultSuccess, nil
}

// DrainQueue downloads every queued item in order. Cancellation and
// download errors are caught between enclosure writes: the in-flight item
// is pushed back onto the front of the queue with overwrite set, so a
// resumed drain retries it and may replace a partial file. State is
// persisted after every item.
func (s *Subscription) DrainQueue(ctx context.Context) error {
	s.rt.Log.Info("draining download queue",
		"sub", s.Name, "queued", len(s.FeedState.Queue))

	for {
		item, ok := s.FeedState.PopFront()
		if !ok {
			return nil
		}

		if err := ctx.Err(); err != nil {
			s.requeueFront(item)
			return err
		}

		if item.Index < 1 || item.Index > len(s.FeedState.Entries) {
			// Stale queue item from before the feed shrank; nothing to
			// fetch and nothing to mark.
			s.rt.Log.Warn("dropping queue item outside entry range",
				"sub", s.Name, "index", item.Index,
				"entries", len(s.FeedState.Entries))
			s.persist()
			continue
		}

		if err := s.downloadItem(ctx, item); err != nil {
			s.requeueFront(item)
			return fmt.Errorf("downloading entry %d for %q: %w", item.Index, s.Name, err)
		}

		s.FeedState.AdvanceWatermark(item.Index)
		s.FeedState.EntriesStatus[item.Index-1] = true
		s.persist()
	}
}

func (s *Subscription) requeueFront(item model.QueueItem) {
	s.FeedState.PushFront(model.QueueItem{Index: item.Index, Overwrite: true})
	s.persist()
}

// downloadItem fetches every enclosure of the entry at the given 1-based
// age-from-oldest index.
func (s *Subscription) downloadItem(ctx context.Context, item model.QueueItem) error {
	total := len(s.FeedState.Entries)
	age := total - item.Index
	entry := s.FeedState.Entries[age]

	s.rt.Log.Info("downloading entry",
		"sub", s.Name, "index", item.Index, "age", age, "title", entry.Title)

	dir := s.Directory
	if len(entry.URLs) > 1 {
		// Group multiple enclosures for one entry under their own
		// directory.
		dir = filepath.Join(dir, sanitizeFilename(entry.Title))
	}

	for _, u := range entry.URLs {
		dest := filepath.Join(dir, destFilename(u, entry.Title, s.UseTitleAsFilename))
		if err := s.rt.Downloader.Download(ctx, u, dest, item.Overwrite); err != nil {
			return err
		}
		if s.rt.History != nil {
			if err := s.rt.History.Record(s.Name, entry.Title, dest, time.Now()); err != nil {
				s.rt.Log.Warn("recording download history failed",
					"sub", s.Name, "err", err)
			}
		}
	}

	s.sessionSummary = append(s.sessionSummary, entry.Title)
	return nil
}

// Enqueue adds entries to the download queue by 1-based index. Out-of-range
// and already-queued indices are silently dropped. Accepted indices are
// implicitly unmarked first: a manual re-queue means "not yet downloaded",
// and the queued item is allowed to overwrite an existing file. Returns
// the indices actually queued.
func (s *Subscription) Enqueue(nums []int) []int {
	total := len(s.FeedState.Entries)
	accepted := make([]int, 0, len(nums))
	for _, n := range nums {
		if n < 1 || n > total || s.FeedState.Queued(n) || containsInt(accepted, n) {
			continue
		}
		accepted = append(accepted, n)
	}

	s.setStatus(accepted, false)
	for _, n := range accepted {
		s.FeedState.PushBack(model.QueueItem{Index: n, Overwrite: true})
	}
	s.persist()

	s.rt.Log.Info("enqueued entries", "sub", s.Name, "indices", accepted)
	return accepted
}

// Mark flags entries as downloaded. Invalid indices are ignored. Returns
// the indices whose state actually changed.
func (s *Subscription) Mark(nums []int) []int {
	changed := s.setStatus(nums, true)
	s.persist()
	return changed
}

// Unmark clears the downloaded flag for entries. Invalid indices are
// ignored. Returns the indices whose state actually changed.
func (s *Subscription) Unmark(nums []int) []int {
	changed := s.setStatus(nums, false)
	s.persist()
	return changed
}

func (s *Subscription) setStatus(nums []int, downloaded bool) []int {
	total := len(s.FeedState.Entries)
	changed := make([]int, 0, len(nums))
	for _, n := range nums {
		if n < 1 || n > total {
			continue
		}
		key := n - 1
		if downloaded {
			if !s.FeedState.EntriesStatus[key] {
				s.FeedState.EntriesStatus[key] = true
				changed = append(changed, n)
			}
		} else if s.FeedState.EntriesStatus[key] {
			delete(s.FeedState.EntriesStatus, key)
			changed = append(changed, n)
		}
	}
	return changed
}

// Status returns a one-line summary: position in the subscription list,
// name, and watermark.
func (s *Subscription) Status(index, totalSubs int) string {
	watermark := "-"
	if s.FeedState.LatestEntryNumber != nil {
		watermark = fmt.Sprintf("%d", *s.FeedState.LatestEntryNumber)
	}
	width := len(fmt.Sprintf("%d", totalSubs))
	return fmt.Sprintf("%0*d/%d - '%s' |%s|", width, index+1, totalSubs, s.Name, watermark)
}

// Details returns a multiline report of the queue and per-entry download
// state, oldest entry first: "+" downloaded, "-" not.
func (s *Subscription) Details(index, totalSubs int) string {
	lines := []string{
		s.Status(index, totalSubs),
		"Queue:",
		fmt.Sprintf("%v", s.FeedState.Queue),
		"",
		"Entries:",
	}

	total := len(s.FeedState.Entries)
	width := len(fmt.Sprintf("%d", total))
	indicators := make([]string, 0, total)
	for i := 0; i < total; i++ {
		flag := "-"
		if s.FeedState.EntriesStatus[i] {
			flag = "+"
		}
		indicators = append(indicators, fmt.Sprintf("%0*d%s", width, i+1, flag))
	}
	lines = append(lines, strings.Join(indicators, " "))

	return strings.Join(lines, "\n")
}

// SessionSummary returns the titles downloaded by this subscription during
// the current process, in download order.
func (s *Subscription) SessionSummary() []string {
	out := make([]string, len(s.sessionSummary))
	copy(out, s.sessionSummary)
	return out
}

// ClearSessionSummary forgets the titles downloaded this session.
func (s *Subscription) ClearSessionSummary() {
	s.sessionSummary = nil
}

func (s *Subscription) persist() {
	if s.rt.Persist != nil {
		s.rt.Persist()
	}
}

func containsInt(xs []int, n int) bool {
	for _, x := range xs {
		if x == n {
			return true
		}
	}
	return false
}
