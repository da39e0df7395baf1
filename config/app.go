package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/podqueue/podqueue/cache"
	"github.com/podqueue/podqueue/feed"
	"github.com/podqueue/podqueue/history"
	"github.com/podqueue/podqueue/opml"
	"github.com/podqueue/podqueue/sub"
)

// sessionSummaryLimit caps how many titles summarize-session shows per
// subscription.
const sessionSummaryLimit = 4

// DefaultRateLimitInterval is the production minimum between fetch
// attempts for the same source.
const DefaultRateLimitInterval = 120 * time.Second

// Options configures an App.
type Options struct {
	ConfigDir string
	CacheDir  string
	DataDir   string

	// RateLimitInterval overrides the per-source fetch interval; zero
	// means DefaultRateLimitInterval.
	RateLimitInterval time.Duration

	// Downloader overrides the enclosure transport; nil means HTTP.
	Downloader feed.Downloader

	Log *slog.Logger
}

// App owns the reconciled subscription list and exposes the commands that
// operate on it. Subscriptions are loaded lazily on first use and the cache
// is rewritten after every mutating operation.
type App struct {
	configFile string
	cacheFile  string
	settings   Settings
	subs       []*sub.Subscription
	loaded     bool

	retriever  *feed.Retriever
	downloader feed.Downloader
	hist       *history.Store
	log        *slog.Logger
}

// NewApp validates the configured directories and assembles the runtime.
func NewApp(opts Options) (*App, error) {
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := validateDirs(opts.ConfigDir, opts.CacheDir, opts.DataDir); err != nil {
		return nil, err
	}

	interval := opts.RateLimitInterval
	if interval <= 0 {
		interval = DefaultRateLimitInterval
	}

	downloader := opts.Downloader
	if downloader == nil {
		downloader = feed.NewHTTPDownloader(opts.Log)
	}

	hist, err := history.New(filepath.Join(opts.CacheDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	defaultLimit := 1
	return &App{
		configFile: filepath.Join(opts.ConfigDir, "config.yaml"),
		cacheFile:  filepath.Join(opts.CacheDir, "subscriptions.cache"),
		settings: Settings{
			Directory:       opts.DataDir,
			BacklogLimit:    &defaultLimit,
			DownloadBacklog: true,
		},
		retriever:  feed.NewRetriever(feed.NewRateLimiter(interval), opts.Log),
		downloader: downloader,
		hist:       hist,
		log:        opts.Log,
	}, nil
}

// Close releases the history store.
func (a *App) Close() error {
	return a.hist.Close()
}

// LoadState loads the user config and the subscription cache, reconciles
// them, and binds runtime collaborators to each live subscription.
func (a *App) LoadState() error {
	settings, userSubs, err := loadUserConfig(a.configFile, a.settings, a.log)
	if err != nil {
		return err
	}
	a.settings = settings

	cachedSubs, err := cache.Load(a.cacheFile, a.log)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	a.subs = reconcile(userSubs, cachedSubs)
	for _, s := range a.subs {
		s.Bind(sub.Runtime{
			Retriever:  a.retriever,
			Downloader: a.downloader,
			History:    a.hist,
			Persist:    a.persist,
			Log:        a.log,
		})
	}

	a.loaded = true
	a.log.Debug("state loaded", "subscriptions", len(a.subs))
	return nil
}

// Subscriptions returns the names of the loaded subscriptions.
func (a *App) Subscriptions() ([]string, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, err
	}
	names := make([]string, len(a.subs))
	for i, s := range a.subs {
		names[i] = s.Name
	}
	return names, nil
}

// Update attempts an update of every subscription in order. One
// subscription's failure is logged and does not stop the rest; the cache
// is saved after each subscription. Cancellation stops the loop.
func (a *App) Update(ctx context.Context) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}

	for i, s := range a.subs {
		a.log.Info("updating subscription",
			"sub", s.Name, "position", fmt.Sprintf("%d/%d", i+1, len(a.subs)))

		result, err := s.AttemptUpdate(ctx)
		if err != nil {
			a.log.Error("subscription update failed",
				"sub", s.Name, "result", result.String(), "err", err)
		} else {
			a.log.Info("subscription update finished",
				"sub", s.Name, "result", result.String())
		}

		if err := a.saveCache(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// List writes one status line per subscription.
func (a *App) List(w io.Writer) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d subscriptions loaded.\n", len(a.subs))
	for i, s := range a.subs {
		fmt.Fprintln(w, s.Status(i, len(a.subs)))
	}
	return nil
}

// Details writes the queue and entry state of one subscription.
func (a *App) Details(w io.Writer, index int) error {
	if err := a.validateIndex(index); err != nil {
		return err
	}
	fmt.Fprintln(w, a.subs[index].Details(index, len(a.subs)))
	return nil
}

// Enqueue adds entry numbers to one subscription's download queue and
// reports which were accepted.
func (a *App) Enqueue(index int, nums []int) ([]int, error) {
	if err := a.validateListCommand(index, nums); err != nil {
		return nil, err
	}
	accepted := a.subs[index].Enqueue(nums)
	return accepted, a.saveCache()
}

// Mark flags entries of one subscription as downloaded.
func (a *App) Mark(index int, nums []int) ([]int, error) {
	if err := a.validateListCommand(index, nums); err != nil {
		return nil, err
	}
	marked := a.subs[index].Mark(nums)
	return marked, a.saveCache()
}

// Unmark clears the downloaded flag on entries of one subscription.
func (a *App) Unmark(index int, nums []int) ([]int, error) {
	if err := a.validateListCommand(index, nums); err != nil {
		return nil, err
	}
	unmarked := a.subs[index].Unmark(nums)
	return unmarked, a.saveCache()
}

// DownloadQueue drains one subscription's download queue.
func (a *App) DownloadQueue(ctx context.Context, index int) error {
	if err := a.validateIndex(index); err != nil {
		return err
	}
	drainErr := a.subs[index].DrainQueue(ctx)
	if err := a.saveCache(); err != nil {
		return err
	}
	return drainErr
}

// SummarizeSession writes the titles downloaded during this process, a few
// per subscription.
func (a *App) SummarizeSession(w io.Writer) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}

	fmt.Fprintln(w, "Items downloaded in this session:")
	any := false
	for _, s := range a.subs {
		titles := s.SessionSummary()
		if len(titles) == 0 {
			continue
		}
		any = true
		if len(titles) > sessionSummaryLimit {
			titles = titles[:sessionSummaryLimit]
		}
		fmt.Fprintln(w, s.Name)
		for _, title := range titles {
			fmt.Fprintf(w, "    %s [NEW]\n", title)
		}
		fmt.Fprintln(w)
	}
	if !any {
		fmt.Fprintln(w, "No items downloaded in this session.")
	}
	return nil
}

// SummarizeSub writes the recorded download history for one subscription,
// newest first.
func (a *App) SummarizeSub(w io.Writer, index int) error {
	if err := a.validateIndex(index); err != nil {
		return err
	}

	s := a.subs[index]
	downloads, err := a.hist.RecentBySub(s.Name, 0)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Items recently downloaded for %s:\n", s.Name)
	if len(downloads) == 0 {
		fmt.Fprintln(w, "    No items downloaded.")
	}
	for _, d := range downloads {
		fmt.Fprintf(w, "    %s (%s)\n", d.EntryTitle, d.DownloadedAt.Format("2006-01-02"))
	}
	return nil
}

// ClearSessionSummary forgets this session's downloads for all
// subscriptions.
func (a *App) ClearSessionSummary() error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	for _, s := range a.subs {
		s.ClearSessionSummary()
	}
	return nil
}

// ExportOPML writes the subscription list as an OPML document.
func (a *App) ExportOPML(w io.Writer) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	feeds := make([]opml.Feed, 0, len(a.subs))
	for _, s := range a.subs {
		feeds = append(feeds, opml.Feed{Name: s.Name, URL: s.ProvidedURL})
	}
	return opml.Generate(w, feeds)
}

// ImportOPML reads an OPML document and writes ready-to-paste config YAML
// for its feeds. The config file is user-owned, so podqueue never edits it
// directly.
func (a *App) ImportOPML(r io.Reader, w io.Writer) error {
	feeds, err := opml.Parse(r)
	if err != nil {
		return err
	}

	entries := make([]userSub, 0, len(feeds))
	for _, f := range feeds {
		entries = append(entries, userSub{Name: f.Name, URL: f.URL})
	}

	out, err := yamlMarshalSubs(entries)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func (a *App) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	return a.LoadState()
}

func (a *App) validateIndex(index int) error {
	if err := a.ensureLoaded(); err != nil {
		return err
	}
	if index < 0 || index >= len(a.subs) {
		return fmt.Errorf("%w: subscription index %d out of range (%d loaded)",
			ErrBadCommand, index, len(a.subs))
	}
	return nil
}

func (a *App) validateListCommand(index int, nums []int) error {
	if len(nums) == 0 {
		return fmt.Errorf("%w: empty entry number list", ErrBadCommand)
	}
	return a.validateIndex(index)
}

func (a *App) saveCache() error {
	if err := cache.Save(a.cacheFile, a.subs); err != nil {
		return fmt.Errorf("saving subscription cache: %w", err)
	}
	return nil
}

// persist is the per-mutation hook handed to subscriptions; save errors
// here are logged, not returned, so a drain is not interrupted by a
// transient write failure.
func (a *App) persist() {
	if err := a.saveCache(); err != nil {
		a.log.Error("cache save failed", "err", err)
	}
}
