// Package config loads user settings, reconciles them with the persisted
// subscription cache, and exposes the command surface of the reconciled
// subscription set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/podqueue/podqueue/sub"
)

var (
	// ErrMalformedConfig indicates the configuration is unusable; fatal to
	// startup.
	ErrMalformedConfig = errors.New("malformed config")

	// ErrBadCommand indicates an invalid command argument (out-of-range
	// subscription index, empty number list). No state is mutated.
	ErrBadCommand = errors.New("bad command")
)

// Settings holds the global defaults applied to subscriptions that do not
// override them.
type Settings struct {
	Directory          string
	BacklogLimit       *int
	UseTitleAsFilename bool
	DownloadBacklog    bool
}

// userConfig is the user-editable YAML config shape. Optional fields are
// pointers so an absent key is distinguishable from a zero value.
type userConfig struct {
	Directory          *string   `yaml:"directory"`
	BacklogLimit       *int      `yaml:"backlog_limit"`
	UseTitleAsFilename *bool     `yaml:"use_title_as_filename"`
	Subscriptions      []userSub `yaml:"subscriptions"`
}

type userSub struct {
	Name               string  `yaml:"name"`
	URL                string  `yaml:"url"`
	Directory          *string `yaml:"directory,omitempty"`
	DownloadBacklog    *bool   `yaml:"download_backlog,omitempty"`
	BacklogLimit       *int    `yaml:"backlog_limit,omitempty"`
	UseTitleAsFilename *bool   `yaml:"use_title_as_filename,omitempty"`
}

var knownTopLevelKeys = map[string]bool{
	"directory":             true,
	"backlog_limit":         true,
	"use_title_as_filename": true,
	"subscriptions":         true,
}

// loadUserConfig reads the config file, folds recognized settings into the
// defaults, and builds subscriptions from the subscription entries.
// Unrecognized top-level keys get a diagnostic and are ignored; entries
// missing name or url are skipped with a diagnostic.
func loadUserConfig(path string, defaults Settings, log *slog.Logger) (Settings, []*sub.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil, nil
		}
		return defaults, nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedConfig, path, err)
	}

	var rawKeys map[string]yaml.Node
	if err := yaml.Unmarshal(data, &rawKeys); err != nil {
		return defaults, nil, fmt.Errorf("%w: parsing %s: %v", ErrMalformedConfig, path, err)
	}
	for key := range rawKeys {
		if !knownTopLevelKeys[key] {
			log.Warn("ignoring unrecognized config key", "key", key)
		}
	}

	var uc userConfig
	if err := yaml.Unmarshal(data, &uc); err != nil {
		return defaults, nil, fmt.Errorf("%w: parsing %s: %v", ErrMalformedConfig, path, err)
	}

	settings := defaults
	if uc.Directory != nil {
		settings.Directory = *uc.Directory
	}
	if uc.BacklogLimit != nil {
		settings.BacklogLimit = uc.BacklogLimit
	}
	if uc.UseTitleAsFilename != nil {
		settings.UseTitleAsFilename = *uc.UseTitleAsFilename
	}

	var subs []*sub.Subscription
	for i, us := range uc.Subscriptions {
		s, err := buildSub(us, settings)
		if err != nil {
			log.Warn("skipping unusable subscription entry", "entry", i+1, "err", err)
			continue
		}
		subs = append(subs, s)
	}
	return settings, subs, nil
}

// buildSub constructs a subscription from a config entry, inheriting the
// global defaults for any field the entry leaves unset.
func buildSub(us userSub, settings Settings) (*sub.Subscription, error) {
	directory := filepath.Join(settings.Directory, us.Name)
	if us.Directory != nil {
		directory = *us.Directory
	}

	s, err := sub.New(us.Name, us.URL, directory)
	if err != nil {
		return nil, err
	}

	s.DownloadBacklog = settings.DownloadBacklog
	if us.DownloadBacklog != nil {
		s.DownloadBacklog = *us.DownloadBacklog
	}
	s.BacklogLimit = settings.BacklogLimit
	if us.BacklogLimit != nil {
		s.BacklogLimit = us.BacklogLimit
	}
	s.UseTitleAsFilename = settings.UseTitleAsFilename
	if us.UseTitleAsFilename != nil {
		s.UseTitleAsFilename = *us.UseTitleAsFilename
	}
	return s, nil
}

// reconcile merges user subscriptions with previously cached ones. A cached
// subscription is matched by name first, then by originally provided URL,
// so feed history survives a rename or a URL edit (but not both at once).
// User config wins for identity and policy; the cache wins for feed
// history.
func reconcile(userSubs, cachedSubs []*sub.Subscription) []*sub.Subscription {
	byName := make(map[string]*sub.Subscription, len(cachedSubs))
	byURL := make(map[string]*sub.Subscription, len(cachedSubs))
	for _, c := range cachedSubs {
		byName[c.Name] = c
		byURL[c.ProvidedURL] = c
	}

	merged := make([]*sub.Subscription, 0, len(userSubs))
	for _, us := range userSubs {
		cached, ok := byName[us.Name]
		if !ok {
			cached, ok = byURL[us.ProvidedURL]
		}
		if !ok {
			merged = append(merged, us)
			continue
		}
		merged = append(merged, adopt(cached, us))
	}
	return merged
}

// adopt takes the cached subscription's feed history and overwrites
// identity and policy from the current user config. A changed URL resets
// the resolved URL too, which revives a subscription whose URL was cleared
// by a 401/410; an unchanged URL keeps the cached resolution (permanent
// redirects, cleared state) intact.
func adopt(cached, user *sub.Subscription) *sub.Subscription {
	cached.Name = user.Name
	cached.Directory = user.Directory
	cached.DownloadBacklog = user.DownloadBacklog
	cached.BacklogLimit = user.BacklogLimit
	cached.UseTitleAsFilename = user.UseTitleAsFilename

	if user.ProvidedURL != cached.ProvidedURL {
		cached.ProvidedURL = user.ProvidedURL
		cached.CurrentURL = user.ProvidedURL
	}
	return cached
}

// yamlMarshalSubs renders subscription entries as a config-file YAML
// stanza.
func yamlMarshalSubs(entries []userSub) ([]byte, error) {
	doc := struct {
		Subscriptions []userSub `yaml:"subscriptions"`
	}{Subscriptions: entries}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering config YAML: %w", err)
	}
	return out, nil
}

// validateDirs checks that every configured directory is usable, creating
// missing ones. A path that exists but is a file is a fatal config error.
func validateDirs(dirs ...string) error {
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			return fmt.Errorf("%w: %s is a file, not a directory", ErrMalformedConfig, dir)
		case err == nil:
			continue
		case errors.Is(err, os.ErrNotExist):
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("%w: creating %s: %v", ErrMalformedConfig, dir, err)
			}
		default:
			return fmt.Errorf("%w: %s: %v", ErrMalformedConfig, dir, err)
		}
	}
	return nil
}
