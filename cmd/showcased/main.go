package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"showcased/internal/config"
	"showcased/internal/db"
	"showcased/internal/discord"
	"showcased/internal/errors"
	"showcased/internal/index"
	"showcased/internal/indexer"
	"showcased/internal/maintenance"
	"showcased/internal/secrets"
	"showcased/internal/showcase"
	"showcased/internal/storage"
)

// env bundles everything the commands share.
type env struct {
	cfg     *config.Config
	db      *gorm.DB
	cache   *storage.Cache
	index   *index.Index
	store   *config.Store
	secrets *secrets.Store
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:     cfg,
		db:      gdb,
		cache:   storage.NewCache(cfg.CacheDir()),
		index:   index.New(gdb),
		store:   config.NewStore(gdb),
		secrets: secrets.NewStore(),
	}, nil
}

func (e *env) sourceClient() (*discord.Client, error) {
	token, ok, err := e.secrets.Get(secrets.KeyBotToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewInvalidRequest("no bot token stored; run `showcased token set` first")
	}
	return discord.New(token, e.cfg.DownloadTimeout)
}

func (e *env) manager() *showcase.Manager {
	return showcase.NewManager(e.db, e.cache, e.index, e.cfg.ArtifactsDir())
}

func (e *env) maintenance() *maintenance.Maintenance {
	return maintenance.New(e.db, e.cache, e.index, e.cfg.DBPath(), e.cfg.ArtifactsDir(), e.secrets)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app := &cli.App{
		Name:  "showcased",
		Usage: "index Discord image channels and manage showcase exports",
		Commands: []*cli.Command{
			indexCmd(),
			statusCmd(),
			guildsCmd(),
			channelsCmd(),
			configCmd(),
			tokenCmd(),
			showcasesCmd(),
			usageCmd(),
			cleanCmd(),
			resetCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func indexCmd() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "run an indexing job over the configured channels and stream progress",
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			cfgState, err := e.store.Get()
			if err != nil {
				return err
			}
			client, err := e.sourceClient()
			if err != nil {
				return err
			}

			engine := indexer.New(e.db, e.index, e.cache, client, e.cfg)
			done := make(chan struct{})
			var once sync.Once
			sink := func(kind indexer.EventKind, message string) {
				fmt.Printf("[%s] %s\n", kind, message)
				// Error events also fire for skipped items mid-run; only
				// a finished engine ends the stream.
				if kind == indexer.EventComplete || kind == indexer.EventError {
					if s := engine.Status().Status; s == indexer.StatusCompleted || s == indexer.StatusFailed {
						once.Do(func() { close(done) })
					}
				}
			}
			if err := engine.Start(sink, cfgState.ServerID, cfgState.ChannelIDs); err != nil {
				return err
			}
			<-done
			if job := engine.Status(); job.Status == indexer.StatusFailed {
				return fmt.Errorf("indexing failed: %s", job.Detail)
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the most recent indexing runs",
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			runs, err := indexer.RecentRuns(e.db, 10)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no indexing runs yet")
				return nil
			}
			for _, run := range runs {
				line := fmt.Sprintf("run %d: %s, %d message(s), %d skipped, started %s",
					run.ID, run.Status, run.MessagesIndexed, run.ItemsSkipped,
					time.Unix(run.StartedAt, 0).Local().Format(time.RFC822))
				if run.Detail != "" {
					line += " (" + run.Detail + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func guildsCmd() *cli.Command {
	return &cli.Command{
		Name:  "guilds",
		Usage: "list the servers visible to the bot",
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			client, err := e.sourceClient()
			if err != nil {
				return err
			}
			guilds, err := client.Guilds(c.Context)
			if err != nil {
				return err
			}
			for _, g := range guilds {
				fmt.Printf("%s\t%s\n", g.ID, g.Name)
			}
			return nil
		},
	}
}

func channelsCmd() *cli.Command {
	return &cli.Command{
		Name:      "channels",
		Usage:     "list the text channels of a server",
		ArgsUsage: "<guild-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.NewInvalidRequest("expected exactly one guild id")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			client, err := e.sourceClient()
			if err != nil {
				return err
			}
			channels, err := client.Channels(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			for _, ch := range channels {
				name := ch.Name
				if ch.ParentName != "" {
					name = ch.ParentName + " / " + name
				}
				fmt.Printf("%s\t%s\n", ch.ID, name)
			}
			return nil
		},
	}
}

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect or change the indexing configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "print the stored configuration",
				Action: func(c *cli.Context) error {
					e, err := openEnv()
					if err != nil {
						return err
					}
					cfgState, err := e.store.Get()
					if err != nil {
						return err
					}
					fmt.Printf("server: %s\n", cfgState.ServerID)
					fmt.Printf("channels: %s\n", strings.Join(cfgState.ChannelIDs, ", "))
					fmt.Printf("setup complete: %t\n", cfgState.SetupComplete)
					return nil
				},
			},
			{
				Name:  "set",
				Usage: "replace the stored configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Required: true},
					&cli.StringSliceFlag{Name: "channel", Required: true},
				},
				Action: func(c *cli.Context) error {
					e, err := openEnv()
					if err != nil {
						return err
					}
					return e.store.Set(config.Configuration{
						ServerID:      c.String("server"),
						ChannelIDs:    c.StringSlice("channel"),
						SetupComplete: true,
					})
				},
			},
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "manage the stored bot token",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "store the bot token in the system keychain",
				ArgsUsage: "<token>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.NewInvalidRequest("expected exactly one token argument")
					}
					return secrets.NewStore().Set(secrets.KeyBotToken, c.Args().First())
				},
			},
			{
				Name:  "clear",
				Usage: "remove the stored bot token",
				Action: func(c *cli.Context) error {
					return secrets.NewStore().Delete(secrets.KeyBotToken)
				},
			},
		},
	}
}

func showcasesCmd() *cli.Command {
	return &cli.Command{
		Name:  "showcases",
		Usage: "list showcases",
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			scs, err := e.manager().List()
			if err != nil {
				return err
			}
			if len(scs) == 0 {
				fmt.Println("no showcases yet")
				return nil
			}
			for _, sc := range scs {
				fmt.Printf("%s\t%s\t%s\t%d image(s)\n", sc.ID, sc.Title, sc.Phase, len(sc.Images))
			}
			return nil
		},
	}
}

func usageCmd() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "report local storage usage",
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			report, err := e.maintenance().Usage()
			if err != nil {
				return err
			}
			fmt.Println(report)
			return nil
		},
	}
}

func cleanCmd() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "delete old unreferenced indexed messages and their cached files",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "age", Usage: "delete messages older than this (default from config)"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			age := c.Duration("age")
			if age == 0 {
				age = e.cfg.CleanupAge
			}
			stats, err := e.maintenance().CleanOldData(age)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d message(s) and %d file(s), kept %d in use\n",
				stats.MessagesDeleted, stats.FilesDeleted, stats.SkippedUsed)
			return nil
		},
	}
}

func resetCmd() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "delete all application data, caches and stored credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm the reset"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return errors.NewInvalidRequest("refusing to reset without --yes")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			return e.maintenance().Reset()
		},
	}
}
