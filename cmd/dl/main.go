package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"draftline/internal/app"
	"draftline/internal/config"
	"draftline/internal/db"
	"draftline/internal/domain"
	"draftline/internal/engine"
	"draftline/internal/migrate"
	"draftline/internal/repo"
	"draftline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Draftline CLI",
	Long: `Draftline is a project and task tracker where every change is staged as a
reviewable draft before it touches anything. Propose a batch of actions,
inspect the simulated outcome (including automatic schedule fixes), then
apply or discard. Every applied change lands in an audit log and any entry
can be rolled back selectively.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRAFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "user", "actor recorded on applied changes")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the workspace's only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Description"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := app.ResolveProject(ctx, viper.GetString("project"), e.Repo)
				if err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status, assignee string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := app.ResolveProject(ctx, viper.GetString("project"), e.Repo)
				if err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					ProjectID: projectID,
					Status:    status,
					Assignee:  assignee,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "WBS", "Title", "Status", "Start", "Due", "%", "Assignee"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.WBS, t.Title, t.Status, formatMillis(t.StartDate), formatMillis(t.DueDate), t.Completion, t.Assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (TODO, IN_PROGRESS, DONE)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Stage, review, and commit change batches"}
	draft.AddCommand(draftPlanCmd())
	draft.AddCommand(draftCreateCmd())
	draft.AddCommand(draftListCmd())
	draft.AddCommand(draftShowCmd())
	draft.AddCommand(draftApplyCmd())
	draft.AddCommand(draftDiscardCmd())
	draft.AddCommand(draftRefreshCmd())
	return draft
}

func readActionsFile(path string) ([]domain.DraftAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var actions []domain.DraftAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("invalid actions file: %w", err)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("actions file is empty")
	}
	return actions, nil
}

func draftPlanCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Simulate actions without creating a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := readActionsFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.PlanActions(ctx, actions)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				printPlan(plan.Actions, plan.Warnings)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the action array")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func draftCreateCmd() *cobra.Command {
	var file, reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Plan actions and store them as a pending draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := readActionsFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDraft(ctx, actions, viper.GetString("actor"), reason, viper.GetString("project"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Draft %s created with %d action(s).\n", d.ID, len(d.Actions))
				printPlan(d.Actions, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the action array")
	cmd.Flags().StringVar(&reason, "reason", "", "why this change is proposed")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func draftListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDrafts(ctx, repo.DraftFilters{
					ProjectID: viper.GetString("project"),
					Status:    status,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Actions", "Created", "By", "Reason"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Status, len(d.Actions), formatMillisValue(d.CreatedAt), d.CreatedBy, d.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, applied, discarded)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a draft with its planned outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDraft(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Draft %s (%s)\n", d.ID, d.Status)
				printPlan(d.Actions, nil)
				return nil
			})
		},
	}
}

func draftApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Commit a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ApplyDraft(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					var stale *engine.StaleDraftError
					if errors.As(err, &stale) {
						return fmt.Errorf("draft is stale: %s (run 'dl draft refresh %s' and review)", stale.Reason, args[0])
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Draft %s is now %s.\n", d.ID, d.Status)
				return nil
			})
		},
	}
}

func draftDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Discard a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.DiscardDraft(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Draft %s is now %s.\n", d.ID, d.Status)
				return nil
			})
		},
	}
}

func draftRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-plan a pending draft against current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RefreshDraftActions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Draft %s re-planned.\n", d.ID)
				printPlan(d.Actions, nil)
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit log and roll back entries"}
	audit.AddCommand(auditListCmd())
	audit.AddCommand(auditShowCmd())
	audit.AddCommand(auditRollbackCmd())
	return audit
}

func auditListCmd() *cobra.Command {
	var taskID, actor, action, entityType, search string
	var since, until int64
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAuditLogs(ctx, repo.AuditFilters{
					ProjectID:  viper.GetString("project"),
					TaskID:     taskID,
					Actor:      actor,
					Action:     action,
					EntityType: entityType,
					Search:     search,
					Since:      since,
					Until:      until,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Actor", "Action", "Entity", "Target", "Reason"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, formatMillisValue(rec.Timestamp), rec.Actor, rec.Action, rec.EntityType, rec.EntityID, rec.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&actor, "actor-filter", "", "actor filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter (create, update, delete, rollback)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter (task, project)")
	cmd.Flags().StringVar(&search, "search", "", "free-text search over snapshots and reasons")
	cmd.Flags().Int64Var(&since, "since", 0, "epoch millis lower bound")
	cmd.Flags().Int64Var(&until, "until", 0, "epoch millis upper bound")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func auditShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an audit entry with its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetAuditLog(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func auditRollbackCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Reverse the change recorded by an audit entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.RollbackAuditLog(ctx, args[0], engine.RollbackOptions{
					Actor:  viper.GetString("actor"),
					Reason: reason,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entry)
				}
				fmt.Printf("Rolled back %s; corrective entry %s recorded.\n", args[0], entry.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the entry is rolled back")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("DRAFTLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Draftline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlan(actions []domain.DraftAction, extra []string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Entity", "Action", "Target", "Warnings"})
	for i, a := range actions {
		tw.AppendRow(table.Row{i + 1, a.EntityType, a.Action, a.EntityID, strings.Join(a.Warnings, "; ")})
	}
	tw.Render()
	for _, w := range extra {
		fmt.Println("warning:", w)
	}
}

func formatMillis(v *int64) string {
	if v == nil {
		return ""
	}
	return formatMillisValue(*v)
}

func formatMillisValue(v int64) string {
	if v == 0 {
		return ""
	}
	return time.UnixMilli(v).UTC().Format("2006-01-02")
}
