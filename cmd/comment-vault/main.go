// Command comment-vault hides, shows, and reconciles source-code comments
// against per-file JSON stores kept in a vault directory next to the code.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"comment-vault/internal/comment"
	"comment-vault/internal/diffview"
	"comment-vault/internal/engine"
	"comment-vault/internal/logutil"
	"comment-vault/internal/markers"
	"comment-vault/internal/parse"
	"comment-vault/internal/store"
	"comment-vault/internal/walk"
	"comment-vault/internal/watch"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}
	short := c
	if len(c) > 7 {
		short = c[:7]
	}
	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

type flags struct {
	Dir      string
	VaultDir string
	Markers  string
	LogLevel string
	LogFile  string
	JSON     bool

	Include   []string
	Exclude   []string
	Debounce  time.Duration
	Gitignore bool
}

type app struct {
	flags *flags
	root  string
	tbl   *markers.Table
	vault *store.Vault
	eng   *engine.Engine
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		f         = &flags{}
		a         = &app{flags: f}
	)

	cmd := &cli.Command{
		Name:      "comment-vault",
		Usage:     "Hide, show and reconcile source comments against a vault",
		UsageText: "comment-vault [global options] command [command options] <file>",
		Description: `comment-vault parses the comments out of source files, keys each one to
the code around it by content hashes, and stores them as JSON documents
under a vault directory. Comments can then be stripped from the files and
re-injected later at the right positions, even after the surrounding code
has moved. A private partition keeps personal notes out of the shared set.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"C"},
				Usage:       "project root directory",
				Sources:     cli.EnvVars("COMMENT_VAULT_DIR"),
				Value:       ".",
				Destination: &f.Dir,
			},
			&cli.StringFlag{
				Name:        "vault-dir",
				Usage:       "vault directory name under the project root",
				Sources:     cli.EnvVars("COMMENT_VAULT_NAME"),
				Value:       store.DefaultDirName,
				Destination: &f.VaultDir,
			},
			&cli.StringFlag{
				Name:        "markers",
				Usage:       "YAML file overriding the built-in comment marker table",
				Sources:     cli.EnvVars("COMMENT_VAULT_MARKERS"),
				Destination: &f.Markers,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error, fatal)",
				Sources:     cli.EnvVars("COMMENT_VAULT_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "write logs to a file instead of stderr",
				Sources:     cli.EnvVars("COMMENT_VAULT_LOG_FILE"),
				Destination: &f.LogFile,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "machine-readable output and JSON logs",
				Destination: &f.JSON,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutil.New(f.LogLevel, f.LogFile, f.JSON)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			root, err := filepath.Abs(f.Dir)
			if err != nil {
				return ctx, err
			}
			tbl, err := markers.Load(f.Markers)
			if err != nil {
				return ctx, err
			}
			a.root = root
			a.tbl = tbl
			a.vault = store.Open(root, f.VaultDir, logutil.Component("store"))
			a.eng = engine.New(root, a.vault, tbl, logutil.Component("engine"))
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
		Commands: []*cli.Command{
			a.parseCmd(),
			a.hideCmd(),
			a.showCmd(),
			a.markCmd(),
			a.saveCmd(),
			a.diffCmd(),
			a.watchCmd(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// relArg resolves the command's file argument to a project-relative path.
func (a *app) relArg(c *cli.Command) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing <file> argument")
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(a.root, abs)
	if err != nil || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return "", fmt.Errorf("%s is outside the project root %s", arg, a.root)
	}
	return filepath.ToSlash(rel), nil
}

func (a *app) parseCmd() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "List the comment entities parsed from a file",
		UsageText: "comment-vault parse <file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			b, err := os.ReadFile(filepath.Join(a.root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			entities := parse.File(string(b), filepath.Ext(rel), a.tbl)
			if a.flags.JSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entities)
			}
			printEntities(entities)
			return nil
		},
	}
}

func printEntities(entities []comment.Entity) {
	if len(entities) == 0 {
		fmt.Println("no comments")
		return
	}
	for _, e := range entities {
		pos := e.OriginalLineIndex + 1
		content := e.Content()
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			content = content[:i] + " …"
		}
		fmt.Printf("%4d  %-6s  anchor=%s  %s\n", pos, e.Kind, orDash(e.Anchor), content)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (a *app) hideCmd() *cli.Command {
	var private bool
	return &cli.Command{
		Name:      "hide",
		Usage:     "Strip comments out of a file into the vault",
		UsageText: "comment-vault hide [--private] <file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "private",
				Usage:       "operate on the private partition",
				Destination: &private,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			if private {
				st, err := a.eng.State(rel)
				if err != nil {
					return err
				}
				if st.PrivateHidden {
					return nil
				}
				return a.eng.TogglePrivate(rel)
			}
			return a.eng.ToggleClean(rel)
		},
	}
}

func (a *app) showCmd() *cli.Command {
	var private bool
	return &cli.Command{
		Name:      "show",
		Usage:     "Inject the vault's comments back into a file",
		UsageText: "comment-vault show [--private] <file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "private",
				Usage:       "operate on the private partition",
				Destination: &private,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			if private {
				st, err := a.eng.State(rel)
				if err != nil {
					return err
				}
				if !st.PrivateHidden {
					return nil
				}
				return a.eng.TogglePrivate(rel)
			}
			return a.eng.ToggleCommented(rel)
		},
	}
}

func (a *app) markCmd() *cli.Command {
	var (
		line   int
		shared bool
	)
	return &cli.Command{
		Name:      "mark",
		Usage:     "Move the comment at a line into the private partition",
		UsageText: "comment-vault mark --line <n> [--shared] <file>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "line",
				Aliases:     []string{"l"},
				Usage:       "1-based line number of the comment",
				Required:    true,
				Destination: &line,
			},
			&cli.BoolFlag{
				Name:        "shared",
				Usage:       "move back to the shared partition instead",
				Destination: &shared,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			if line < 1 {
				return fmt.Errorf("--line is 1-based")
			}
			return a.eng.SetPrivate(rel, line-1, !shared)
		},
	}
}

func (a *app) saveCmd() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Reconcile a file's current content into the vault",
		UsageText: "comment-vault save <file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			return a.eng.Reconcile(rel)
		},
	}
}

func (a *app) diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Preview what the next hide/show would rewrite",
		UsageText: "comment-vault diff <file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			rel, err := a.relArg(c)
			if err != nil {
				return err
			}
			current, next, err := a.eng.Render(rel)
			if err != nil {
				return err
			}
			body, oversize := diffview.Preview(rel, current, next, diffview.Options{})
			if oversize {
				log.Warn().Str("file", rel).Msg("diff omitted, input too large")
			}
			fmt.Print(body)
			return nil
		},
	}
}

func (a *app) watchCmd() *cli.Command {
	f := a.flags
	return &cli.Command{
		Name:      "watch",
		Usage:     "Reconcile managed files on every save",
		UsageText: "comment-vault watch [--include <glob>] [--exclude <glob>]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "include",
				Usage:       "glob of files to manage (repeatable)",
				Destination: &f.Include,
			},
			&cli.StringSliceFlag{
				Name:        "exclude",
				Usage:       "glob of files to skip (repeatable)",
				Destination: &f.Exclude,
			},
			&cli.DurationFlag{
				Name:        "debounce",
				Usage:       "settle window after the last write",
				Value:       watch.DefaultDebounce,
				Destination: &f.Debounce,
			},
			&cli.BoolFlag{
				Name:        "gitignore",
				Usage:       "honor the project root .gitignore",
				Destination: &f.Gitignore,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			root := a.root

			// One initial pass so files edited while the watcher was down
			// are not silently stale.
			files, err := walk.Collect(root, walk.Options{
				Include:      f.Include,
				Exclude:      f.Exclude,
				ExcludeDirs:  walk.DefaultExcludeDirs(),
				VaultDir:     a.vault.DirName(),
				UseGitignore: f.Gitignore,
				Types:        a.tbl,
			})
			if err != nil {
				return err
			}
			for _, fi := range files {
				if err := a.eng.Reconcile(fi.RelPath); err != nil {
					return err
				}
			}
			log.Info().Int("files", len(files)).Msg("initial reconcile done")

			w, err := watch.New(root, a.eng, watch.Options{
				Debounce:     f.Debounce,
				Include:      f.Include,
				Exclude:      f.Exclude,
				ExcludeDirs:  walk.DefaultExcludeDirs(),
				VaultDir:     a.vault.DirName(),
				UseGitignore: f.Gitignore,
				Types:        a.tbl,
			}, logutil.Component("watch"))
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Close()

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-sigCtx.Done()
			return nil
		},
	}
}
