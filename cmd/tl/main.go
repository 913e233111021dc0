package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracelayer/internal/app"
	"tracelayer/internal/config"
	"tracelayer/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "TraceLayer CLI",
	Long: `TraceLayer turns project communications into a business requirements document.
Core concepts:
- Project: a workspace entry that owns sources, runs, extracted data and documents.
- Sources: emails, meeting notes, chats and documents; integrations pull more from feeds.
- Run: one pass of the agent pipeline (ingest, classify, extract, detect conflicts,
  trace, generate the BRD). Only one run per project at a time.
- Conflicts: contradictions between requirements; resolve or accept each one.
- Shares: expiring links to the latest BRD, viewable without an account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		setupLogger(cmd.ErrOrStderr(), viper.GetString("log-level"))
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACELAYER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/tracelayer.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "project", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sourceCmd())
	rootCmd.AddCommand(integrationCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

// loadDotEnv loads <workspace>/.env without overriding variables already set.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setupLogger(w io.Writer, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage tracelayer.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Config OK")
			return nil
		},
	}
	cfgCmd.AddCommand(initCmd, validateCmd)
	return cfgCmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func projectID() (string, error) {
	id := strings.TrimSpace(viper.GetString("project"))
	if id == "" {
		return "", errors.New("project not specified; use --project or TRACELAYER_PROJECT")
	}
	return id, nil
}

// withApp opens the workspace, records the CLI actor and runs fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     slog.Default(),
	})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if _, err := a.Engine.EnsureActor(ctx, actorID(), ""); err != nil {
		return err
	}
	return fn(ctx, a)
}

// withProject is withApp for commands scoped to --project.
func withProject(ctx context.Context, fn func(context.Context, *app.App, string) error) error {
	pid, err := projectID()
	if err != nil {
		return err
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		if _, err := a.Engine.GetProject(ctx, pid); err != nil {
			return fmt.Errorf("project %s: %w", pid, err)
		}
		return fn(ctx, a, pid)
	})
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows, or v as JSON with --json.
func printTable(w io.Writer, v any, header table.Row, rows []table.Row) error {
	if jsonOutput() {
		return printJSON(w, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func readContent(inline, file string, in io.Reader) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", errors.New("use either --content or --file")
	case inline != "":
		return inline, nil
	case file == "-":
		b, err := io.ReadAll(in)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return string(b), err
	default:
		return "", errors.New("content required; use --content or --file")
	}
}
