package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"podnotes/internal/app"
	"podnotes/internal/config"
	"podnotes/internal/dataset"
	"podnotes/internal/db"
	"podnotes/internal/domain"
	"podnotes/internal/purge"
	"podnotes/internal/repo"
	"podnotes/internal/server"
	"podnotes/internal/timecode"
)

var rootCmd = &cobra.Command{
	Use:   "pn",
	Short: "Podnotes CLI",
	Long: `Podnotes collects timestamped topic annotations for podcast episodes.
- Episodes come from the podcast RSS feed (pn podcast import).
- A user claims an episode before editing its topics; one claim per episode.
- Claims older than claims.max_age_seconds are dropped by the purger.
- Datasets are YAML files holding one episode's hosts and topics (pn datasets import/export).
- Event log: every change is recorded, view with 'pn events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates rejected requests (2) from failures (1).
func exitCode(err error) int {
	if domain.KindOf(err) != 0 || errors.Is(err, db.ErrLocked) {
		return 2
	}
	return 1
}

func initConfig() {
	viper.SetEnvPrefix("PODNOTES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.StringP("user", "u", "", "acting username")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "user", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(episodesCmd())
	rootCmd.AddCommand(podcastCmd())
	rootCmd.AddCommand(claimsCmd())
	rootCmd.AddCommand(datasetsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage podnotes.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default podnotes.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate podnotes.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage users"}
	users.AddCommand(usersCreateCmd())
	users.AddCommand(usersListCmd())
	users.AddCommand(usersAPIKeyCmd())
	return users
}

func usersCreateCmd() *cobra.Command {
	var u domain.User
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				created, err := env.Engine.CreateUser(ctx, u, "cli")
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&u.Username, "username", "", "username")
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Email, "email", "", "email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				users, err := env.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Username", "Name", "Created")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.Name, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func usersAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue an API key for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				u, err := env.User(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				key, secret, err := env.Engine.CreateAPIKey(ctx, u.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": u.ID, "key": secret})
				}
				fmt.Printf("API key for %s (shown once): %s\n", u.Username, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "cli", "key label")
	return cmd
}

func episodesCmd() *cobra.Command {
	eps := &cobra.Command{Use: "episodes", Short: "Inspect episodes"}
	eps.AddCommand(episodesListCmd())
	eps.AddCommand(episodesShowCmd())
	return eps
}

func episodesListCmd() *cobra.Command {
	var f repo.EpisodeFilters
	var claimed string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch claimed {
			case "":
			case "true", "false":
				v := claimed == "true"
				f.Claimed = &v
			default:
				return fmt.Errorf("--claimed must be true or false")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListEpisodes(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("#", "GUID", "Title", "Duration", "Published")
				for _, ep := range items {
					num := ""
					if ep.Number != nil {
						num = fmt.Sprint(*ep.Number)
					}
					tw.AppendRow(table.Row{num, ep.GUID, ep.Title, timecode.Format(ep.Duration), ep.PublishedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&claimed, "claimed", "", "filter by claim state (true, false)")
	cmd.Flags().BoolVar(&f.WithTopicsOnly, "with-topics", false, "only episodes that have topics")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func episodesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <guid>",
		Short: "Show an episode with its topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				g, err := env.Engine.LoadGraph(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("%s  %s (%s)\n", g.Episode.GUID, g.Episode.Title, timecode.Format(g.Episode.Duration))
				tw := newTable("Start", "End", "Topic", "Ad", "Community", "Subtopics")
				for _, t := range g.Topics {
					end := ""
					if t.End != nil {
						end = timecode.Format(*t.End)
					}
					tw.AppendRow(table.Row{timecode.Format(t.Start), end, t.Name, t.Ad, t.Community, len(t.Subtopics)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func podcastCmd() *cobra.Command {
	pc := &cobra.Command{Use: "podcast", Short: "Podcast feed operations"}
	pc.AddCommand(podcastImportCmd())
	return pc
}

func podcastImportCmd() *cobra.Command {
	var feedURL string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import new episodes from the RSS feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				url := feedURL
				if url == "" {
					url = env.Config.Feed.URL
				}
				eps, err := env.FeedReader().Fetch(ctx, url)
				if err != nil {
					return err
				}
				res, err := env.Engine.ImportEpisodes(ctx, eps, "feed")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"created": len(res.Created), "existing": res.Existing})
				}
				fmt.Printf("Imported %d new episodes (%d already known)\n", len(res.Created), res.Existing)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&feedURL, "url", "", "feed url (defaults to feed.url)")
	return cmd
}

func claimsCmd() *cobra.Command {
	cl := &cobra.Command{
		Use:   "claims",
		Short: "Manage episode claims",
		Long:  "A claim gives one user exclusive edit rights on an episode until it is released or purged.",
	}
	cl.AddCommand(claimsListCmd())
	cl.AddCommand(claimsClaimCmd())
	cl.AddCommand(claimsReleaseCmd())
	cl.AddCommand(claimsPurgeCmd())
	return cl
}

func claimsListCmd() *cobra.Command {
	var expired bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var (
					claims []domain.Claim
					err    error
				)
				if expired {
					claims, err = env.Engine.ExpiredClaims(ctx, env.Config.MaxAge())
				} else {
					userID := ""
					if name := viper.GetString("user"); name != "" {
						u, err := env.User(ctx, name)
						if err != nil {
							return err
						}
						userID = u.ID
					}
					claims, err = env.Engine.ListClaims(ctx, userID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := newTable("Episode", "User", "Claimed at")
				for _, c := range claims {
					tw.AppendRow(table.Row{c.EpisodeGUID, c.UserID, c.ClaimedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&expired, "expired", false, "only claims past claims.max_age_seconds")
	return cmd
}

func claimsClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <guid>",
		Short: "Claim an episode as --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				u, err := env.User(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				c, err := env.Engine.Claim(ctx, args[0], u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func claimsReleaseCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release <guid>",
		Short: "Release --user's claim, or any claim with --force",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if force {
					c, ok, err := env.Engine.ForceRelease(ctx, args[0], "cli")
					if err != nil {
						return err
					}
					if !ok {
						fmt.Printf("%s was not claimed\n", args[0])
						return nil
					}
					fmt.Printf("Dropped claim of %s on %s\n", c.UserID, c.EpisodeGUID)
					return nil
				}
				u, err := env.User(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				if err := env.Engine.Release(ctx, args[0], u.ID); err != nil {
					return err
				}
				fmt.Printf("Released %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "drop the claim whoever holds it")
	return cmd
}

func claimsPurgeCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop claims older than claims.max_age_seconds",
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := db.TryLock(viper.GetString("workspace"), "purge")
			if err != nil {
				return err
			}
			defer lock.Unlock()
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p := env.Purger()
				if maxAge > 0 {
					p.MaxAge = maxAge
				}
				rep, err := p.Sweep(ctx)
				if err != nil {
					return err
				}
				return printPurgeReport(rep)
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override claims.max_age_seconds")
	return cmd
}

func printPurgeReport(rep purge.Report) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"expired":          rep.Expired,
			"dropped":          rep.Dropped,
			"release_failures": rep.ReleaseFailures,
			"notify_failures":  rep.NotifyFailures,
		})
	}
	fmt.Printf("Dropped %d of %d expired claims", len(rep.Dropped), rep.Expired)
	if rep.ReleaseFailures > 0 || rep.NotifyFailures > 0 {
		fmt.Printf(" (%d release failures, %d notify failures)", rep.ReleaseFailures, rep.NotifyFailures)
	}
	fmt.Println()
	return nil
}

func datasetsCmd() *cobra.Command {
	ds := &cobra.Command{Use: "datasets", Short: "Import and export episode datasets"}
	ds.AddCommand(datasetsImportCmd())
	ds.AddCommand(datasetsExportCmd())
	return ds
}

func datasetsImportCmd() *cobra.Command {
	var opts dataset.ImportOptions
	cmd := &cobra.Command{
		Use:   "import [file-or-dir]",
		Short: "Import dataset files into episodes without topics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			lock, err := db.TryLock(workspace, "import")
			if err != nil {
				return err
			}
			defer lock.Unlock()
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				location := env.Config.Datasets.Location
				if len(args) == 1 {
					location = args[0]
				} else if !filepath.IsAbs(location) {
					location = filepath.Join(workspace, location)
				}
				rep, err := env.Engine.ImportDatasets(ctx, location, "cli", opts)
				if viper.GetBool("json") {
					failed := make([]map[string]string, 0, len(rep.Failed))
					for _, f := range rep.Failed {
						failed = append(failed, map[string]string{"file": f.Path, "error": f.Err.Error()})
					}
					if jerr := printJSON(map[string]any{"imported": rep.Imported, "failed": failed, "halted": rep.Halted}); jerr != nil {
						return jerr
					}
				} else {
					fmt.Printf("Imported %d datasets, %d failed\n", len(rep.Imported), len(rep.Failed))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&opts.SkipErrors, "skip-errors", false, "continue after a failing dataset")
	return cmd
}

func datasetsExportCmd() *cobra.Command {
	var opts dataset.ExportOptions
	cmd := &cobra.Command{
		Use:   "export [dir]",
		Short: "Write one dataset file per episode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				dir := filepath.Join(env.Workspace, env.Config.Datasets.Location)
				if len(args) == 1 {
					dir = args[0]
				}
				rep, err := env.Engine.ExportDatasets(ctx, dir, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"written": rep.Written, "overwritten": rep.Overwritten, "skipped": rep.Skipped})
				}
				fmt.Printf("Wrote %d, overwrote %d, skipped %d existing\n", len(rep.Written), len(rep.Overwritten), len(rep.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "include episodes without topics")
	cmd.Flags().IntVar(&opts.Episode, "episode", 0, "export a single episode number")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "file name prefix (defaults to datasets.prefix)")
	cmd.Flags().StringVar(&opts.Extension, "extension", "", "file extension (defaults to datasets.extension)")
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Inspect the event log"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var (
		n     int
		after int64
		types []string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show events after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				events, err := env.Engine.Events.Since(ctx, after, types, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events with a greater id")
	cmd.Flags().StringSliceVar(&types, "type", nil, "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		devLogin       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the claim purger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				authCfg := server.AuthConfig{
					JWTSecret: viper.GetString("jwt_secret"),
					DevLogin:  devLogin,
					Logger:    env.Logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("PODNOTES_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg, Logger: env.Logger})
				if err != nil {
					return err
				}
				if interval := env.Config.Claims.PurgeInterval.Duration; interval > 0 {
					p := env.Purger()
					go func() {
						if err := p.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
							env.Logger.Error("claim purger stopped", "err", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				env.Logger.Info("serving podnotes API", "addr", addr, "base_path", basePath, "dev_login", devLogin)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
