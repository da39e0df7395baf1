package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDownloader pretends every download succeeds.
type stubDownloader struct {
	urls []string
}

func (d *stubDownloader) Download(_ context.Context, url, _ string, _ bool) error {
	d.urls = append(d.urls, url)
	return nil
}

type appFixture struct {
	app      *App
	dl       *stubDownloader
	feedPath string
	opts     Options
}

func newAppFixture(t *testing.T, episodes int) *appFixture {
	t.Helper()

	feedPath := filepath.Join(t.TempDir(), "feed.xml")
	writeTestFeed(t, feedPath, episodes)

	configDir := t.TempDir()
	configYAML := fmt.Sprintf(`
subscriptions:
  - name: testcast
    url: %s
`, feedPath)
	require.NoError(t, os.WriteFile(
		filepath.Join(configDir, "config.yaml"), []byte(configYAML), 0o644))

	dl := &stubDownloader{}
	opts := Options{
		ConfigDir:         configDir,
		CacheDir:          t.TempDir(),
		DataDir:           t.TempDir(),
		RateLimitInterval: time.Millisecond,
		Downloader:        dl,
		Log:               discard(),
	}
	app, err := NewApp(opts)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	return &appFixture{app: app, dl: dl, feedPath: feedPath, opts: opts}
}

// reopen builds a second App over the same directories, simulating a new
// process run.
func (f *appFixture) reopen(t *testing.T) *App {
	t.Helper()
	opts := f.opts
	opts.Downloader = f.dl
	app, err := NewApp(opts)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func writeTestFeed(t *testing.T, path string, episodes int) {
	t.Helper()
	body := `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Testcast</title>`
	for i := episodes; i >= 1; i-- {
		body += fmt.Sprintf(
			`<item><title>Episode %d</title><enclosure url="https://example.com/ep%d.mp3" length="1" type="audio/mpeg"/></item>`,
			i, i)
	}
	body += `</channel></rss>`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestApp_UpdateDownloadsBacklog(t *testing.T) {
	f := newAppFixture(t, 3)

	require.NoError(t, f.app.Update(context.Background()))

	assert.Equal(t, []string{
		"https://example.com/ep1.mp3",
		"https://example.com/ep2.mp3",
		"https://example.com/ep3.mp3",
	}, f.dl.urls)

	_, err := os.Stat(filepath.Join(f.opts.CacheDir, "subscriptions.cache"))
	assert.NoError(t, err, "cache written after update")
}

func TestApp_WatermarkSurvivesRestart(t *testing.T) {
	f := newAppFixture(t, 3)
	require.NoError(t, f.app.Update(context.Background()))
	require.Len(t, f.dl.urls, 3)

	writeTestFeed(t, f.feedPath, 4)
	app2 := f.reopen(t)
	require.NoError(t, app2.Update(context.Background()))

	assert.Len(t, f.dl.urls, 4, "only the new episode downloads after restart")
	assert.Equal(t, "https://example.com/ep4.mp3", f.dl.urls[3])
}

func TestApp_List(t *testing.T) {
	f := newAppFixture(t, 2)
	require.NoError(t, f.app.Update(context.Background()))

	var b strings.Builder
	require.NoError(t, f.app.List(&b))

	assert.Contains(t, b.String(), "1 subscriptions loaded.")
	assert.Contains(t, b.String(), "'testcast' |2|")
}

func TestApp_Details(t *testing.T) {
	f := newAppFixture(t, 2)
	require.NoError(t, f.app.Update(context.Background()))

	var b strings.Builder
	require.NoError(t, f.app.Details(&b, 0))

	assert.Contains(t, b.String(), "Queue:")
	assert.Contains(t, b.String(), "1+ 2+")
}

func TestApp_BadCommands(t *testing.T) {
	f := newAppFixture(t, 2)

	_, err := f.app.Enqueue(5, []int{1})
	assert.ErrorIs(t, err, ErrBadCommand)

	_, err = f.app.Mark(0, nil)
	assert.ErrorIs(t, err, ErrBadCommand)

	assert.ErrorIs(t, f.app.Details(&strings.Builder{}, -1), ErrBadCommand)
}

func TestApp_EnqueueAndDownloadQueue(t *testing.T) {
	f := newAppFixture(t, 3)
	require.NoError(t, f.app.Update(context.Background()))
	require.Len(t, f.dl.urls, 3)

	accepted, err := f.app.Enqueue(0, []int{2})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, accepted)

	require.NoError(t, f.app.DownloadQueue(context.Background(), 0))
	assert.Equal(t, "https://example.com/ep2.mp3", f.dl.urls[3], "re-queued entry downloads again")
}

func TestApp_MarkBeforeUpdate(t *testing.T) {
	f := newAppFixture(t, 3)

	// Nothing is known before the first update, so marking is a no-op on an
	// empty entry list.
	marked, err := f.app.Mark(0, []int{1})
	require.NoError(t, err)
	assert.Empty(t, marked)
}

func TestApp_SessionSummary(t *testing.T) {
	f := newAppFixture(t, 6)
	require.NoError(t, f.app.Update(context.Background()))

	var b strings.Builder
	require.NoError(t, f.app.SummarizeSession(&b))
	out := b.String()

	assert.Contains(t, out, "testcast")
	assert.Contains(t, out, "Episode 1 [NEW]")
	assert.NotContains(t, out, "Episode 5", "summary shows a few titles per subscription")

	require.NoError(t, f.app.ClearSessionSummary())
	b.Reset()
	require.NoError(t, f.app.SummarizeSession(&b))
	assert.Contains(t, b.String(), "No items downloaded in this session.")
}

func TestApp_SummarizeSub(t *testing.T) {
	f := newAppFixture(t, 2)
	require.NoError(t, f.app.Update(context.Background()))

	var b strings.Builder
	require.NoError(t, f.app.SummarizeSub(&b, 0))

	assert.Contains(t, b.String(), "Items recently downloaded for testcast:")
	assert.Contains(t, b.String(), "Episode 1")
	assert.Contains(t, b.String(), "Episode 2")
}

func TestApp_SummarizeSubSurvivesRestart(t *testing.T) {
	f := newAppFixture(t, 2)
	require.NoError(t, f.app.Update(context.Background()))

	app2 := f.reopen(t)
	var b strings.Builder
	require.NoError(t, app2.SummarizeSub(&b, 0))
	assert.Contains(t, b.String(), "Episode 2")
}

func TestApp_ExportOPML(t *testing.T) {
	f := newAppFixture(t, 1)

	var b strings.Builder
	require.NoError(t, f.app.ExportOPML(&b))

	assert.Contains(t, b.String(), `title="testcast"`)
	assert.Contains(t, b.String(), f.feedPath)
}

func TestApp_ImportOPML(t *testing.T) {
	f := newAppFixture(t, 1)

	opml := `<?xml version="1.0"?>
<opml version="2.0">
  <body>
    <outline text="Imported Cast" type="rss" xmlUrl="https://example.com/imported"/>
  </body>
</opml>`

	var b strings.Builder
	require.NoError(t, f.app.ImportOPML(strings.NewReader(opml), &b))

	assert.Contains(t, b.String(), "name: Imported Cast")
	assert.Contains(t, b.String(), "url: https://example.com/imported")
}
