package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/podqueue/podqueue/config"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
)

func main() {
	app := &cli.App{
		Name:    "podqueue",
		Usage:   "Poll podcast feeds and manage durable download queues",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   defaultDir(os.UserConfigDir, "podqueue"),
				Usage:   "Directory holding config.yaml",
				EnvVars: []string{"PODQUEUE_CONFIG_DIR"},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Value:   defaultDir(os.UserCacheDir, "podqueue"),
				Usage:   "Directory holding the subscription cache",
				EnvVars: []string{"PODQUEUE_CACHE_DIR"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   defaultDir(os.UserHomeDir, "podcasts"),
				Usage:   "Default download directory",
				EnvVars: []string{"PODQUEUE_DATA_DIR"},
			},
			&cli.DurationFlag{
				Name:  "fetch-interval",
				Value: config.DefaultRateLimitInterval,
				Usage: "Minimum interval between fetches of the same feed",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "update",
				Usage: "Update all subscriptions and download their queues",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					return a.Update(c.Context)
				}),
			},
			{
				Name:  "list",
				Usage: "List subscriptions and their status",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					return a.List(os.Stdout)
				}),
			},
			{
				Name:      "details",
				Usage:     "Show one subscription's queue and entry status",
				ArgsUsage: "<sub-index>",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, err := subIndex(c)
					if err != nil {
						return err
					}
					return a.Details(os.Stdout, index)
				}),
			},
			{
				Name:      "enqueue",
				Usage:     "Add entry numbers to a subscription's download queue",
				ArgsUsage: "<sub-index> <numbers>...",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, nums, err := subIndexAndNums(c)
					if err != nil {
						return err
					}
					accepted, err := a.Enqueue(index, nums)
					if err != nil {
						return err
					}
					fmt.Printf("Enqueued entries %v.\n", accepted)
					return nil
				}),
			},
			{
				Name:      "mark",
				Usage:     "Mark entries as downloaded",
				ArgsUsage: "<sub-index> <numbers>...",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, nums, err := subIndexAndNums(c)
					if err != nil {
						return err
					}
					marked, err := a.Mark(index, nums)
					if err != nil {
						return err
					}
					fmt.Printf("Marked entries %v as downloaded.\n", marked)
					return nil
				}),
			},
			{
				Name:      "unmark",
				Usage:     "Mark entries as not downloaded (does not queue them)",
				ArgsUsage: "<sub-index> <numbers>...",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, nums, err := subIndexAndNums(c)
					if err != nil {
						return err
					}
					unmarked, err := a.Unmark(index, nums)
					if err != nil {
						return err
					}
					fmt.Printf("Unmarked entries %v.\n", unmarked)
					return nil
				}),
			},
			{
				Name:      "download-queue",
				Usage:     "Download a subscription's pending queue",
				ArgsUsage: "<sub-index>",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, err := subIndex(c)
					if err != nil {
						return err
					}
					return a.DownloadQueue(c.Context, index)
				}),
			},
			{
				Name:  "summarize",
				Usage: "Summarize entries downloaded in this session",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					return a.SummarizeSession(os.Stdout)
				}),
			},
			{
				Name:      "summarize-sub",
				Usage:     "Summarize recent downloads for one subscription",
				ArgsUsage: "<sub-index>",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					index, err := subIndex(c)
					if err != nil {
						return err
					}
					return a.SummarizeSub(os.Stdout, index)
				}),
			},
			{
				Name:  "clear-summary",
				Usage: "Clear the session download summary",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					return a.ClearSessionSummary()
				}),
			},
			{
				Name:  "export-opml",
				Usage: "Export subscriptions as OPML",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (default: stdout)",
					},
				},
				Action: withApp(func(c *cli.Context, a *config.App) error {
					out := os.Stdout
					if path := c.String("output"); path != "" {
						f, err := os.Create(path)
						if err != nil {
							return err
						}
						defer f.Close()
						out = f
					}
					return a.ExportOPML(out)
				}),
			},
			{
				Name:      "import-opml",
				Usage:     "Convert an OPML file into config YAML (printed, not applied)",
				ArgsUsage: "<opml-file>",
				Action: withApp(func(c *cli.Context, a *config.App) error {
					if c.NArg() < 1 {
						return cli.Exit("Usage: podqueue import-opml <opml-file>", ExitUsageError)
					}
					f, err := os.Open(c.Args().Get(0))
					if err != nil {
						return err
					}
					defer f.Close()
					return a.ImportOPML(f, os.Stdout)
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

// withApp builds the App for a command and tears it down afterwards.
func withApp(action func(*cli.Context, *config.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		level := slog.LevelInfo
		if c.Bool("verbose") {
			level = slog.LevelDebug
		}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		app, err := config.NewApp(config.Options{
			ConfigDir:         c.String("config-dir"),
			CacheDir:          c.String("cache-dir"),
			DataDir:           c.String("data-dir"),
			RateLimitInterval: c.Duration("fetch-interval"),
			Log:               log,
		})
		if err != nil {
			return err
		}
		defer app.Close()

		return action(c, app)
	}
}

// subIndex parses the zero-based subscription index argument.
func subIndex(c *cli.Context) (int, error) {
	if c.NArg() < 1 {
		return 0, cli.Exit("A subscription index is required.", ExitUsageError)
	}
	index, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("Invalid subscription index %q.", c.Args().Get(0)), ExitUsageError)
	}
	return index, nil
}

// subIndexAndNums parses the subscription index plus an entry number list
// such as "1 3 5-8".
func subIndexAndNums(c *cli.Context) (int, []int, error) {
	index, err := subIndex(c)
	if err != nil {
		return 0, nil, err
	}

	var raw string
	for i := 1; i < c.NArg(); i++ {
		raw += c.Args().Get(i) + " "
	}
	nums := config.ParseNumberList(raw)
	if len(nums) == 0 {
		return 0, nil, cli.Exit("At least one entry number is required.", ExitUsageError)
	}
	return index, nums, nil
}

func defaultDir(base func() (string, error), name string) string {
	dir, err := base()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}
