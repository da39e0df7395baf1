package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podqueue/podqueue/sub"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testDefaults() Settings {
	limit := 1
	return Settings{
		Directory:       "/downloads",
		BacklogLimit:    &limit,
		DownloadBacklog: true,
	}
}

func TestLoadUserConfig_MissingFile(t *testing.T) {
	defaults := testDefaults()
	settings, subs, err := loadUserConfig(
		filepath.Join(t.TempDir(), "config.yaml"), defaults, discard())

	require.NoError(t, err)
	assert.Equal(t, defaults, settings)
	assert.Empty(t, subs)
}

func TestLoadUserConfig_Full(t *testing.T) {
	path := writeConfig(t, `
directory: /media/podcasts
backlog_limit: 5
use_title_as_filename: true
subscriptions:
  - name: alpha
    url: https://example.com/alpha
  - name: beta
    url: https://example.com/beta
    directory: /elsewhere/beta
    download_backlog: false
    backlog_limit: 0
    use_title_as_filename: false
`)

	settings, subs, err := loadUserConfig(path, testDefaults(), discard())
	require.NoError(t, err)

	assert.Equal(t, "/media/podcasts", settings.Directory)
	require.NotNil(t, settings.BacklogLimit)
	assert.Equal(t, 5, *settings.BacklogLimit)
	assert.True(t, settings.UseTitleAsFilename)

	require.Len(t, subs, 2)

	alpha := subs[0]
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, "https://example.com/alpha", alpha.ProvidedURL)
	assert.Equal(t, filepath.Join("/media/podcasts", "alpha"), alpha.Directory)
	assert.True(t, alpha.DownloadBacklog, "global default applies")
	assert.Equal(t, 5, *alpha.BacklogLimit)
	assert.True(t, alpha.UseTitleAsFilename)

	beta := subs[1]
	assert.Equal(t, "/elsewhere/beta", beta.Directory)
	assert.False(t, beta.DownloadBacklog)
	assert.Equal(t, 0, *beta.BacklogLimit, "explicit zero overrides the default")
	assert.False(t, beta.UseTitleAsFilename)
}

func TestLoadUserConfig_SkipsUnusableEntries(t *testing.T) {
	path := writeConfig(t, `
subscriptions:
  - name: ok
    url: https://example.com/ok
  - name: no-url
  - url: https://example.com/no-name
`)

	_, subs, err := loadUserConfig(path, testDefaults(), discard())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "ok", subs[0].Name)
}

func TestLoadUserConfig_UnknownKeysIgnored(t *testing.T) {
	path := writeConfig(t, `
directory: /media/podcasts
colour_scheme: mauve
subscriptions:
  - name: ok
    url: https://example.com/ok
`)

	settings, subs, err := loadUserConfig(path, testDefaults(), discard())
	require.NoError(t, err)
	assert.Equal(t, "/media/podcasts", settings.Directory)
	assert.Len(t, subs, 1)
}

func TestLoadUserConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "directory: [unclosed")

	_, _, err := loadUserConfig(path, testDefaults(), discard())
	require.ErrorIs(t, err, ErrMalformedConfig)
}

func mustSub(t *testing.T, name, url string) *sub.Subscription {
	t.Helper()
	s, err := sub.New(name, url, "/downloads/"+name)
	require.NoError(t, err)
	return s
}

func TestReconcile_MatchByName(t *testing.T) {
	cached := mustSub(t, "alpha", "https://old.example.com/alpha")
	cached.CurrentURL = "" // cleared by a 410 in a previous run
	cached.FeedState.AdvanceWatermark(7)

	user := mustSub(t, "alpha", "https://new.example.com/alpha")
	limit := 4
	user.BacklogLimit = &limit

	merged := reconcile([]*sub.Subscription{user}, []*sub.Subscription{cached})
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, 7, *got.FeedState.LatestEntryNumber, "feed history comes from the cache")
	assert.Equal(t, 4, *got.BacklogLimit, "policy comes from the user config")
	assert.Equal(t, "https://new.example.com/alpha", got.ProvidedURL)
	assert.Equal(t, "https://new.example.com/alpha", got.CurrentURL,
		"a changed URL resets the cleared resolution")
}

func TestReconcile_SameURLKeepsResolution(t *testing.T) {
	cached := mustSub(t, "alpha", "https://example.com/alpha")
	cached.CurrentURL = "https://cdn.example.com/alpha" // permanent redirect

	user := mustSub(t, "alpha", "https://example.com/alpha")

	merged := reconcile([]*sub.Subscription{user}, []*sub.Subscription{cached})
	require.Len(t, merged, 1)
	assert.Equal(t, "https://cdn.example.com/alpha", merged[0].CurrentURL)
}

func TestReconcile_MatchByURLSurvivesRename(t *testing.T) {
	cached := mustSub(t, "old-name", "https://example.com/feed")
	cached.FeedState.AdvanceWatermark(3)

	user := mustSub(t, "new-name", "https://example.com/feed")

	merged := reconcile([]*sub.Subscription{user}, []*sub.Subscription{cached})
	require.Len(t, merged, 1)
	assert.Equal(t, "new-name", merged[0].Name)
	assert.Equal(t, 3, *merged[0].FeedState.LatestEntryNumber)
}

func TestReconcile_NoMatchStartsFresh(t *testing.T) {
	cached := mustSub(t, "other", "https://example.com/other")
	cached.FeedState.AdvanceWatermark(9)

	user := mustSub(t, "brand-new", "https://example.com/new")

	merged := reconcile([]*sub.Subscription{user}, []*sub.Subscription{cached})
	require.Len(t, merged, 1)
	assert.Nil(t, merged[0].FeedState.LatestEntryNumber)
}

func TestReconcile_DroppedFromConfigDisappears(t *testing.T) {
	cached := mustSub(t, "gone", "https://example.com/gone")

	merged := reconcile(nil, []*sub.Subscription{cached})
	assert.Empty(t, merged)
}

func TestValidateDirs(t *testing.T) {
	base := t.TempDir()

	missing := filepath.Join(base, "a", "b")
	require.NoError(t, validateDirs(missing))
	info, err := os.Stat(missing)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.ErrorIs(t, validateDirs(file), ErrMalformedConfig)
}
