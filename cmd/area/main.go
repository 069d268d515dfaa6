package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"area/internal/app"
	"area/internal/db"
	"area/internal/domain"
	"area/internal/engine"
	"area/internal/poller"
	"area/internal/repo"
	"area/internal/server"
	"area/internal/timer"
)

var rootCmd = &cobra.Command{
	Use:   "area",
	Short: "AREA automation engine CLI",
	Long: `AREA connects action events from external services to reactions.
Core concepts:
- Workspace: your .area directory holding the SQLite database; config lives in area.yml next to it.
- Service: an integration (github, trello, spotify, google, timer) exposing actions and reactions.
- Action: an observable event, delivered by webhook or discovered by polling.
- Reaction: an API call executed on a user's connected account.
- Area: one user rule binding an action to a reaction, with filter params on the
  action side and templated params ({{path.to.value}}) on the reaction side.
- Account: a user's credential grant for a service; reactions and webhook setup need one.
- Event log: diary of firings and deliveries, view with 'area log tail'.`,
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
	viper.SetEnvPrefix("AREA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("user-id", 1, "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(areaCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{Use: "service", Short: "Inspect the service catalog"}
	svc.AddCommand(serviceListCmd())
	svc.AddCommand(serviceShowCmd())
	return svc
}

func serviceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				services, err := e.Repo.ListServices(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(services)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Display Name", "Active"})
				for _, s := range services {
					tw.AppendRow(table.Row{s.ID, s.Name, s.DisplayName, s.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func serviceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a service with its actions and reactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc, err := e.Repo.GetServiceByName(ctx, args[0])
				if err != nil {
					return err
				}
				actions, err := e.Repo.ListActionsByService(ctx, svc.ID)
				if err != nil {
					return err
				}
				reactions, err := e.Repo.ListReactionsByService(ctx, svc.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"service": svc, "actions": actions, "reactions": reactions})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "ID", "Key", "Name", "Polling"})
				for _, a := range actions {
					tw.AppendRow(table.Row{"action", a.ID, domain.TechnicalKey(a.Name), a.Name, a.IsPolling})
				}
				for _, r := range reactions {
					tw.AppendRow(table.Row{"reaction", r.ID, domain.TechnicalKey(r.Name), r.Name, ""})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func areaCmd() *cobra.Command {
	a := &cobra.Command{Use: "area", Short: "Manage automation rules"}
	a.AddCommand(areaListCmd())
	a.AddCommand(areaCreateCmd())
	a.AddCommand(areaShowCmd())
	a.AddCommand(areaSetActiveCmd("enable", true))
	a.AddCommand(areaSetActiveCmd("disable", false))
	a.AddCommand(areaDeleteCmd())
	return a
}

func areaListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var areas []domain.Area
				var err error
				if all {
					areas, err = e.Repo.ListAreas(ctx)
				} else {
					areas, err = e.Repo.ListAreasByUser(ctx, viper.GetInt64("user-id"))
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(areas)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Action", "Reaction", "Active"})
				for _, ar := range areas {
					tw.AppendRow(table.Row{ar.ID, ar.UserID, ar.Name, ar.ActionID, ar.ReactionID, ar.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list rules for every user")
	return cmd
}

func areaCreateCmd() *cobra.Command {
	var name string
	var actionID, reactionID int64
	var paramsAction, paramsReaction string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pa, err := parseParams(paramsAction)
				if err != nil {
					return fmt.Errorf("params-action: %w", err)
				}
				pr, err := parseParams(paramsReaction)
				if err != nil {
					return fmt.Errorf("params-reaction: %w", err)
				}
				action, err := e.Repo.GetAction(ctx, actionID)
				if err != nil {
					return fmt.Errorf("action %d: %w", actionID, err)
				}
				reaction, err := e.Repo.GetReaction(ctx, reactionID)
				if err != nil {
					return fmt.Errorf("reaction %d: %w", reactionID, err)
				}
				now := time.Now().UTC().Format(time.RFC3339)
				area := domain.Area{
					UserID:            viper.GetInt64("user-id"),
					Name:              name,
					ActionServiceID:   action.ServiceID,
					ActionID:          action.ID,
					ReactionServiceID: reaction.ServiceID,
					ReactionID:        reaction.ID,
					ParamsAction:      pa,
					ParamsReaction:    pr,
					IsActive:          true,
					CreatedAt:         now,
					UpdatedAt:         now,
				}
				id, err := e.Repo.InsertArea(ctx, area)
				if err != nil {
					return err
				}
				created, err := e.Repo.GetArea(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().Int64Var(&actionID, "action", 0, "action id (see 'area service show')")
	cmd.Flags().Int64Var(&reactionID, "reaction", 0, "reaction id")
	cmd.Flags().StringVar(&paramsAction, "params-action", "{}", "action params as JSON")
	cmd.Flags().StringVar(&paramsReaction, "params-reaction", "{}", "reaction params as JSON, {{path}} templates allowed")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("reaction")
	return cmd
}

func areaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				area, err := r.GetArea(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(area)
			})
		},
	}
	return cmd
}

func areaSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Enable a rule"
	if !active {
		short = "Disable a rule"
	}
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.SetAreaActive(ctx, id, active, now); err != nil {
					return err
				}
				area, err := r.GetArea(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(area)
			})
		},
	}
	return cmd
}

func areaDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := r.DeleteArea(ctx, id); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
	return cmd
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Manage service credentials"}
	acc.AddCommand(accountConnectCmd())
	return acc
}

func accountConnectCmd() *cobra.Command {
	var service, token, refresh, email string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Store an access token for a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				svc, err := r.GetServiceByName(ctx, service)
				if err != nil {
					return fmt.Errorf("service %q: %w", service, err)
				}
				id, err := r.InsertServiceAccount(ctx, domain.ServiceAccount{
					UserID:       viper.GetInt64("user-id"),
					ServiceID:    svc.ID,
					AccessToken:  token,
					RefreshToken: refresh,
					TokenType:    "bearer",
					RemoteEmail:  email,
					IsActive:     true,
				})
				if err != nil {
					return err
				}
				fmt.Printf("connected %s as account %d\n", service, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service name")
	cmd.Flags().StringVar(&token, "token", "", "access token")
	cmd.Flags().StringVar(&refresh, "refresh-token", "", "refresh token")
	cmd.Flags().StringVar(&email, "email", "", "remote account email")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var limit int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, limit, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Area", "Service"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.AreaID, ev.Service})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noPoll, noTimer bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, poller and timer scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			e, err := app.Bootstrap(cmd.Context(), viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer e.DB.Close()
			secret := os.Getenv("AREA_JWT_SECRET")
			if secret == "" {
				secret = e.Config.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("AREA_JWT_SECRET or auth.jwt_secret is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: secret}})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = e.Config.HTTP.Addr
			}
			if !noPoll {
				p := poller.New(e, time.Duration(e.Config.PollInterval())*time.Second, log)
				go p.Run(cmd.Context())
			}
			if !noTimer {
				s := timer.NewScheduler(e, time.Duration(e.Config.SchedulerInterval())*time.Second, log)
				go s.Run(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving AREA API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to config http.addr")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "disable the polling loop")
	cmd.Flags().BoolVar(&noTimer, "no-timer", false, "disable the timer scheduler")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, err := app.Bootstrap(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
}

func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
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
