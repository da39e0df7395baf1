// Package cache persists the subscription list as a binary file of
// schema-versioned CBOR records. The whole file is rewritten on every save;
// on load, a malformed record is skipped without aborting the rest.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/podqueue/podqueue/model"
	"github.com/podqueue/podqueue/sub"
)

// SchemaVersion is written into every record as the producing version.
const SchemaVersion = "1.0.0"

const recordType = "subscription"

// ErrMalformedRecord indicates a single cache record could not be decoded.
var ErrMalformedRecord = errors.New("malformed cache record")

// feedStateRecord mirrors the embedded feed-state schema. All fields are
// optional; reconstruction supplies defaults.
type feedStateRecord struct {
	Entries           []model.Entry     `cbor:"entries"`
	EntriesStatus     map[int]bool      `cbor:"entries_status"`
	Queue             []model.QueueItem `cbor:"queue"`
	LatestEntryNumber *int              `cbor:"latest_entry_number"`
	LastModified      *string           `cbor:"last_modified"`
	ETag              *string           `cbor:"etag"`
}

// record is the on-disk shape of one subscription. Every field is optional
// at the decode layer; mandatory-key enforcement happens against the raw
// map so that an explicit null still counts as present.
type record struct {
	Type               string           `cbor:"type"`
	Version            string           `cbor:"version"`
	Name               *string          `cbor:"name"`
	CurrentURL         *string          `cbor:"current_url"`
	ProvidedURL        *string          `cbor:"provided_url"`
	Directory          *string          `cbor:"directory"`
	DownloadBacklog    *bool            `cbor:"download_backlog"`
	BacklogLimit       *int             `cbor:"backlog_limit"`
	UseTitleAsFilename *bool            `cbor:"use_title_as_filename"`
	FeedState          *feedStateRecord `cbor:"feed_state"`
}

// Load reads the cache file and decodes its subscription records. A missing
// or empty file yields no subscriptions and no error. Records that cannot
// be decoded are logged and skipped.
func Load(path string, log *slog.Logger) ([]*sub.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raws []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode cache %s: %w", path, err)
	}

	subs := make([]*sub.Subscription, 0, len(raws))
	for i, raw := range raws {
		s, err := decodeRecord(raw)
		if err != nil {
			log.Warn("skipping malformed cache record", "record", i, "err", err)
			continue
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// Save atomically rewrites the cache file with the full subscription list.
func Save(path string, subs []*sub.Subscription) error {
	records := make([]record, 0, len(subs))
	for _, s := range subs {
		records = append(records, encodeRecord(s))
	}

	data, err := cbor.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// decodeRecord decodes one raw record, requiring the name and both URL keys
// to be present (null values are present; absent keys fail the record).
func decodeRecord(raw cbor.RawMessage) (*sub.Subscription, error) {
	var keys map[string]cbor.RawMessage
	if err := cbor.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	for _, key := range []string{"name", "current_url", "provided_url"} {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedRecord, key)
		}
	}

	var r record
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.Name == nil || *r.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrMalformedRecord)
	}

	return reconstruct(r), nil
}

// reconstruct builds a subscription from a decoded record, supplying a
// default for every optional field.
func reconstruct(r record) *sub.Subscription {
	s := &sub.Subscription{
		Name:      *r.Name,
		FeedState: sub.NewFeedState(),
	}
	if r.ProvidedURL != nil {
		s.ProvidedURL = *r.ProvidedURL
	}
	if r.CurrentURL != nil {
		s.CurrentURL = *r.CurrentURL
	}
	if r.Directory != nil {
		s.Directory = *r.Directory
	}
	if r.DownloadBacklog != nil {
		s.DownloadBacklog = *r.DownloadBacklog
	}
	s.BacklogLimit = r.BacklogLimit
	if r.UseTitleAsFilename != nil {
		s.UseTitleAsFilename = *r.UseTitleAsFilename
	}

	if fs := r.FeedState; fs != nil {
		s.FeedState.Entries = fs.Entries
		if fs.EntriesStatus != nil {
			s.FeedState.EntriesStatus = fs.EntriesStatus
		}
		s.FeedState.Queue = fs.Queue
		s.FeedState.LatestEntryNumber = fs.LatestEntryNumber
		if fs.ETag != nil {
			s.FeedState.ETag = *fs.ETag
		}
		if fs.LastModified != nil {
			if t, err := time.Parse(time.RFC3339, *fs.LastModified); err == nil {
				s.FeedState.LastModified = &t
			}
		}
	}
	return s
}

func encodeRecord(s *sub.Subscription) record {
	fs := feedStateRecord{
		Entries:           s.FeedState.Entries,
		EntriesStatus:     s.FeedState.EntriesStatus,
		Queue:             s.FeedState.Queue,
		LatestEntryNumber: s.FeedState.LatestEntryNumber,
	}
	if s.FeedState.ETag != "" {
		etag := s.FeedState.ETag
		fs.ETag = &etag
	}
	if s.FeedState.LastModified != nil {
		lm := s.FeedState.LastModified.Format(time.RFC3339)
		fs.LastModified = &lm
	}

	name := s.Name
	currentURL := s.CurrentURL
	providedURL := s.ProvidedURL
	directory := s.Directory
	downloadBacklog := s.DownloadBacklog
	useTitle := s.UseTitleAsFilename

	return record{
		Type:               recordType,
		Version:            SchemaVersion,
		Name:               &name,
		CurrentURL:         &currentURL,
		ProvidedURL:        &providedURL,
		Directory:          &directory,
		DownloadBacklog:    &downloadBacklog,
		BacklogLimit:       s.BacklogLimit,
		UseTitleAsFilename: &useTitle,
		FeedState:          &fs,
	}
}
