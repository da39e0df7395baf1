// Package feed provides RSS/Atom feed retrieval and enclosure downloading
// for podqueue.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/podqueue/podqueue/model"
)

const (
	// UserAgent is sent on every feed fetch and enclosure download.
	UserAgent = "podqueue/1.0 (+https://github.com/podqueue/podqueue)"

	// maxFetchAttempts bounds redirect-driven retries within one update
	// cycle, preventing infinite redirect loops.
	maxFetchAttempts = 10

	fetchTimeout = 30 * time.Second
)

// Source is the mutable fetch identity for one subscription. GetFeed
// mutates CurrentURL on permanent redirects and 401/410 responses, and
// refreshes ETag/LastModified from every HTTP response as cache validators
// for the next poll, regardless of this cycle's outcome.
type Source struct {
	Name         string
	CurrentURL   string
	ETag         string
	LastModified *time.Time
}

// Retriever fetches and parses feeds, classifying HTTP outcomes into
// model.UpdateResult.
type Retriever struct {
	client  *http.Client
	parser  *gofeed.Parser
	limiter *RateLimiter
	log     *slog.Logger
}

// NewRetriever creates a Retriever. Redirects are not followed by the
// client; the retriever classifies 3xx statuses itself so permanent and
// temporary moves can be treated differently.
func NewRetriever(limiter *RateLimiter, log *slog.Logger) *Retriever {
	return &Retriever{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		parser:  gofeed.NewParser(),
		limiter: limiter,
		log:     log,
	}
}

// GetFeed runs the retrieval state machine for one update cycle and returns
// the terminal result along with the parsed entries on success.
//
// Temporary redirects (302/303/307) adjust CurrentURL for the rest of the
// cycle only: on exit CurrentURL is restored to its value just before the
// first temporary redirect, so a permanent redirect seen earlier in the
// chain persists but one seen after a temporary redirect does not.
func (r *Retriever) GetFeed(ctx context.Context, src *Source) (model.UpdateResult, []model.Entry) {
	var (
		preTempURL string
		sawTemp    bool
	)
	defer func() {
		if sawTemp {
			src.CurrentURL = preTempURL
		}
	}()

	for attempt := 0; ; attempt++ {
		if attempt > maxFetchAttempts {
			r.log.Error("too many fetch attempts, giving up",
				"sub", src.Name, "attempts", attempt)
			return model.ResultFailure, nil
		}

		if src.CurrentURL == "" {
			r.log.Error("no current URL, cannot fetch feed", "sub", src.Name)
			return model.ResultFailure, nil
		}

		r.limiter.Wait(src.CurrentURL, src.Name)
		r.log.Debug("fetching feed",
			"sub", src.Name, "url", src.CurrentURL, "attempt", attempt)

		result, entries := r.fetchOnce(ctx, src, &sawTemp, &preTempURL)
		if result != model.ResultAttemptAgain {
			return result, entries
		}
	}
}

// fetchOnce performs a single conditional fetch and classifies the outcome.
func (r *Retriever) fetchOnce(ctx context.Context, src *Source, sawTemp *bool, preTempURL *string) (model.UpdateResult, []model.Entry) {
	if isLocalSource(src.CurrentURL) {
		return r.fetchLocal(src)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.CurrentURL, nil)
	if err != nil {
		r.log.Error("building feed request failed",
			"sub", src.Name, "url", src.CurrentURL, "err", err)
		return model.ResultFailure, nil
	}
	req.Header.Set("User-Agent", UserAgent)

	// Conditional fetch: send whichever validators we hold. The server
	// decides what "unchanged" means for the subset it receives.
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != nil {
		req.Header.Set("If-Modified-Since", src.LastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Error("feed fetch failed", "sub", src.Name, "url", src.CurrentURL, "err", err)
		return model.ResultFailure, nil
	}
	defer resp.Body.Close()

	// Validators are refreshed unconditionally; they cache state for the
	// next scheduled poll, independent of this attempt's outcome.
	if etag := strings.TrimSpace(resp.Header.Get("ETag")); etag != "" {
		src.ETag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			src.LastModified = &t
		}
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		r.log.Debug("feed not modified", "sub", src.Name)
		return model.ResultUnneeded, nil

	case http.StatusOK:
		parsed, err := r.parser.Parse(resp.Body)
		if err != nil {
			r.log.Error("malformed feed body",
				"sub", src.Name, "url", src.CurrentURL, "err", err)
			return model.ResultFailure, nil
		}
		return model.ResultSuccess, convertEntries(parsed)

	case http.StatusNotFound:
		// Keep the current URL; it will be retried on the next cycle.
		r.log.Error("feed not found, keeping URL for next attempt",
			"sub", src.Name, "url", src.CurrentURL)
		return model.ResultFailure, nil

	case http.StatusUnauthorized, http.StatusGone:
		r.log.Error("feed unusable, clearing current URL",
			"sub", src.Name, "url", src.CurrentURL, "status", resp.StatusCode)
		src.CurrentURL = ""
		return model.ResultFailure, nil

	case http.StatusMovedPermanently, http.StatusPermanentRedirect:
		loc := resolveLocation(resp)
		if loc == "" {
			r.log.Warn("permanent redirect without location",
				"sub", src.Name, "url", src.CurrentURL)
			return model.ResultAttemptAgain, nil
		}
		r.log.Warn("permanent redirect, storing new URL",
			"sub", src.Name, "from", src.CurrentURL, "to", loc)
		src.CurrentURL = loc
		return model.ResultAttemptAgain, nil

	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		loc := resolveLocation(resp)
		if loc == "" {
			r.log.Warn("temporary redirect without location",
				"sub", src.Name, "url", src.CurrentURL)
			return model.ResultAttemptAgain, nil
		}
		r.log.Warn("temporary redirect, URL change will not persist",
			"sub", src.Name, "from", src.CurrentURL, "to", loc)
		if !*sawTemp {
			*sawTemp = true
			*preTempURL = src.CurrentURL
		}
		src.CurrentURL = loc
		return model.ResultAttemptAgain, nil

	default:
		r.log.Warn("unexpected feed status, will retry",
			"sub", src.Name, "url", src.CurrentURL, "status", resp.StatusCode)
		return model.ResultAttemptAgain, nil
	}
}

// fetchLocal parses a feed from the local filesystem. There is no HTTP
// status for these sources; a parseable body is a success.
func (r *Retriever) fetchLocal(src *Source) (model.UpdateResult, []model.Entry) {
	path := strings.TrimPrefix(src.CurrentURL, "file://")
	f, err := os.Open(path)
	if err != nil {
		r.log.Error("opening local feed failed", "sub", src.Name, "path", path, "err", err)
		return model.ResultFailure, nil
	}
	defer f.Close()

	parsed, err := r.parser.Parse(f)
	if err != nil {
		r.log.Error("malformed local feed", "sub", src.Name, "path", path, "err", err)
		return model.ResultFailure, nil
	}
	return model.ResultSuccess, convertEntries(parsed)
}

// convertEntries converts gofeed items into model entries, keeping the
// feed's own order (index 0 = newest).
func convertEntries(parsed *gofeed.Feed) []model.Entry {
	entries := make([]model.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entry := model.Entry{Title: item.Title}
		for _, enc := range item.Enclosures {
			if enc != nil && enc.URL != "" {
				entry.URLs = append(entry.URLs, enc.URL)
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// resolveLocation resolves the response's Location header against the
// request URL, so relative redirect targets work.
func resolveLocation(resp *http.Response) string {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.ResolveReference(u).String()
	}
	return u.String()
}

// isLocalSource reports whether the URL refers to the local filesystem.
func isLocalSource(rawURL string) bool {
	if strings.HasPrefix(rawURL, "file://") {
		return true
	}
	return !strings.Contains(rawURL, "://")
}
