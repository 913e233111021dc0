package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracelayer/internal/app"
	"tracelayer/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}

	var name, description string
	create := &cobra.Command{
		Use:   "create [id]",
		Short: "Create a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					ID: id, Name: name, Description: description, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.ID, p.Name)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	create.Flags().StringVar(&description, "description", "", "project description")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Name, p.CreatedAt})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the project and its preflight state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				p, err := a.Engine.GetProject(ctx, pid)
				if err != nil {
					return err
				}
				pf, err := a.Engine.Preflight(ctx, pid, "", "")
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"project": p, "preflight": pf})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s\n", p.ID, p.Name)
				if p.Description != "" {
					fmt.Fprintln(out, p.Description)
				}
				fmt.Fprintf(out, "Sources: %d  Integrations: %d  Running: %t\n", pf.SourceCount, pf.IntegrationCount, pf.Running)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete the project and everything it owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				if err := a.Engine.DeleteProject(ctx, pid, actorID()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted project", pid)
				return nil
			})
		},
	}

	prj.AddCommand(create, list, show, del)
	return prj
}

func sourceCmd() *cobra.Command {
	src := &cobra.Command{Use: "source", Short: "Manage project sources"}

	var kind, title, content, file, contentType string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a source (email, meeting, chat, document)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(content, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if contentType == "" && (strings.HasSuffix(file, ".html") || strings.HasSuffix(file, ".htm")) {
				contentType = "html"
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				s, err := a.Engine.AddSource(ctx, engine.SourceCreateOptions{
					ProjectID: pid, Kind: kind, Title: title, Content: body, ContentType: contentType, ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s source %s\n", s.Kind, s.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "document", "source kind")
	add.Flags().StringVar(&title, "title", "", "source title")
	add.Flags().StringVar(&content, "content", "", "inline content")
	add.Flags().StringVar(&file, "file", "", "read content from file (- for stdin)")
	add.Flags().StringVar(&contentType, "content-type", "", "text or html")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				items, err := a.Engine.ListSources(ctx, pid)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, s.Kind, s.Title, s.Origin, s.Category, s.CreatedAt})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Kind", "Title", "Origin", "Category", "Created"}, rows)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <source-id>",
		Short: "Delete a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				if err := a.Engine.DeleteSource(ctx, pid, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted source", args[0])
				return nil
			})
		},
	}

	src.AddCommand(add, list, del)
	return src
}

func integrationCmd() *cobra.Command {
	in := &cobra.Command{Use: "integration", Short: "Manage feed integrations"}

	var name string
	add := &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Connect an RSS or Atom feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				it, err := a.Engine.AddIntegration(ctx, pid, name, args[0], actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), it)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected %s (%s)\n", it.Name, it.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				items, err := a.Engine.ListIntegrations(ctx, pid)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Name, it.URL, it.Status, it.LastSyncedAt, it.LastError})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Name", "URL", "Status", "Last sync", "Error"}, rows)
			})
		},
	}

	sync := &cobra.Command{
		Use:   "sync <integration-id>",
		Short: "Pull new feed items now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				added, it, err := a.Engine.SyncIntegration(ctx, pid, args[0], actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"added": added, "integration": it})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new sources (%s)\n", it.Name, added, it.Status)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <integration-id>",
		Short: "Disconnect an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				if err := a.Engine.DeleteIntegration(ctx, pid, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted integration", args[0])
				return nil
			})
		},
	}

	in.AddCommand(add, list, sync, del)
	return in
}

func credentialCmd() *cobra.Command {
	cred := &cobra.Command{Use: "credential", Short: "Manage LLM provider API keys"}

	var apiKey string
	set := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store an API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := apiKey
			if key == "" {
				key = viper.GetString("api-key")
			}
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				c, err := a.Engine.SetCredential(ctx, pid, strings.ToLower(args[0]), key, actorID())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key %s\n", c.Provider, c.Masked())
				return nil
			})
		},
	}
	set.Flags().StringVar(&apiKey, "api-key", "", "API key (default $TRACELAYER_API_KEY)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				items, err := a.Engine.ListCredentials(ctx, pid)
				if err != nil {
					return err
				}
				type masked struct {
					Provider  string `json:"provider"`
					APIKey    string `json:"api_key"`
					UpdatedAt string `json:"updated_at"`
				}
				out := make([]masked, 0, len(items))
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					out = append(out, masked{Provider: c.Provider, APIKey: c.Masked(), UpdatedAt: c.UpdatedAt})
					rows = append(rows, table.Row{c.Provider, c.Masked(), c.UpdatedAt})
				}
				return printTable(cmd.OutOrStdout(), out, table.Row{"Provider", "Key", "Updated"}, rows)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Forget a provider key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				if err := a.Engine.DeleteCredential(ctx, pid, strings.ToLower(args[0]), actorID()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted credential", args[0])
				return nil
			})
		},
	}

	cred.AddCommand(set, list, del)
	return cred
}
