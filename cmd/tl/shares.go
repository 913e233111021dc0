package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"tracelayer/internal/app"
	"tracelayer/internal/brd"
)

func documentCmd() *cobra.Command {
	dc := &cobra.Command{Use: "document", Short: "Read the generated BRD"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the latest BRD as Markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				doc, err := a.Engine.LatestDocument(ctx, pid)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				fmt.Fprint(cmd.OutOrStdout(), brd.Markdown(doc))
				return nil
			})
		},
	}
	dc.AddCommand(show)
	return dc
}

func shareCmd() *cobra.Command {
	sc := &cobra.Command{Use: "share", Short: "Share the latest BRD by link"}

	var permission string
	var ttlHours int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a share link for the latest BRD",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				s, err := a.Engine.CreateShare(ctx, pid, permission, time.Duration(ttlHours)*time.Hour, actorID())
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "/shared/%s/view (%s", s.Token, s.Permission)
				if s.ExpiresAt != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ", expires %s", s.ExpiresAt)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ")")
				return nil
			})
		},
	}
	create.Flags().StringVar(&permission, "permission", "", "view, comment or edit (default from config)")
	create.Flags().IntVar(&ttlHours, "ttl-hours", 0, "lifetime in hours (default from config)")

	show := &cobra.Command{
		Use:   "show <token>",
		Short: "Resolve a share link without recording a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Engine.GetByToken(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), snap)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  views=%d  expires=%s\n", snap.Document.Title, snap.Permission, snap.ViewCount, snap.ExpiresAt)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List share links for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, a *app.App, pid string) error {
				items, err := a.Engine.ListShares(ctx, pid)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.Token, s.Permission, s.ViewCount, s.ExpiresAt, s.RevokedAt})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"Token", "Permission", "Views", "Expires", "Revoked"}, rows)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.RevokeShare(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Revoked", args[0])
				return nil
			})
		},
	}

	sc.AddCommand(create, show, list, revoke)
	return sc
}

func apiKeyCmd() *cobra.Command {
	kc := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, plain, err := a.Engine.CreateAPIKey(ctx, actorID(), name)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": key.ID, "name": key.Name, "key": plain})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "API key %s created. Store it now, it is not shown again:\n%s\n", key.ID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx, actorID())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printTable(cmd.OutOrStdout(), keys, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}

	kc.AddCommand(create, list)
	return kc
}
