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

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"recordline/internal/config"
	"recordline/internal/db"
	"recordline/internal/domain"
	"recordline/internal/engine"
	"recordline/internal/migrate"
	"recordline/internal/query"
	"recordline/internal/repo"
	"recordline/internal/server"
	"recordline/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Recordline CLI",
	Long: `Recordline keeps civil registration events as append-only action logs.
Core concepts:
- Workspace: your .recordline directory with the event database; event types come from recordline.yml.
- Event: one case (a birth, a death, a membership) whose history is a list of actions.
- Action: one recorded operation (DECLARE, VALIDATE, REGISTER, ...) with a status of Requested, Accepted or Rejected.
- State: everything else (status, flags, declaration, assignment) is derived from the log, never stored.
- Flags: derived markers like incomplete or correction-requested that steer the available next actions.
- Search: query the derived state; 'rl search' runs trusted locally, the API gates by scopes.`,
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
	viper.SetEnvPrefix("RECORDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("location", "", "acting office location id")
	rootCmd.PersistentFlags().Bool("force", false, "skip lifecycle availability checks")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("location", rootCmd.PersistentFlags().Lookup("location"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(locationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook: which event types exist, which declaration fields they fold, and which custom actions are allowed.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter recordline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
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
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
		Long:  "Events are cases. Creating one appends the CREATE action; everything after that is 'rl action append'.",
	}
	ev.AddCommand(eventCreateCmd())
	ev.AddCommand(eventGetCmd())
	ev.AddCommand(eventStateCmd())
	ev.AddCommand(eventActionsCmd())
	ev.AddCommand(eventListCmd())
	return ev
}

func eventCreateCmd() *cobra.Command {
	var eventType, transactionID, declarationJSON, annotationJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			declaration, err := decodeJSONFlag(declarationJSON, "declaration-json")
			if err != nil {
				return err
			}
			annotation, err := decodeJSONFlag(annotationJSON, "annotation-json")
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.CreateEvent(ctx, engine.CreateEventOptions{
					EventType:     eventType,
					TransactionID: transactionID,
					Declaration:   declaration,
					Annotation:    annotation,
					ActorID:       viper.GetString("actor-id"),
					Location:      viper.GetString("location"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type id")
	cmd.Flags().StringVar(&transactionID, "transaction-id", "", "idempotency key")
	cmd.Flags().StringVar(&declarationJSON, "declaration-json", "", "declaration JSON")
	cmd.Flags().StringVar(&annotationJSON, "annotation-json", "", "annotation JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("transaction-id")
	return cmd
}

func eventGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get the full event document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.GetEvent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	return cmd
}

func eventStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <id>",
		Short: "Project the derived event state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				idx, err := e.GetEventState(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(idx)
			})
		},
	}
	return cmd
}

func eventActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions <id>",
		Short: "Show available next actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actions, err := e.AvailableActions(ctx, args[0], nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				for _, a := range actions {
					fmt.Println(a)
				}
				return nil
			})
		},
	}
	return cmd
}

func eventListCmd() *cobra.Command {
	var eventType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var types []string
				if eventType != "" {
					types = []string{eventType}
				}
				docs, err := e.Repo.ListEvents(ctx, types)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Tracking", "Assigned", "Updated"})
				for _, doc := range docs {
					etCfg, _ := e.Config.EventType(doc.Type)
					idx, err := stateOrEmpty(doc, etCfg)
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{doc.ID, doc.Type, idx.Status, idx.TrackingID, idx.AssignedTo, doc.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	return cmd
}

func actionCmd() *cobra.Command {
	ac := &cobra.Command{
		Use:   "action",
		Short: "Append actions to events",
	}
	ac.AddCommand(actionAppendCmd())
	return ac
}

func actionAppendCmd() *cobra.Command {
	var opts engine.AppendActionOptions
	var actionType, status, declarationJSON, annotationJSON string
	var duplicates []string
	cmd := &cobra.Command{
		Use:   "append <event-id>",
		Short: "Append one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.EventID = args[0]
			opts.Type = domain.ActionType(actionType)
			opts.Status = domain.ActionStatus(status)
			opts.ActorID = viper.GetString("actor-id")
			opts.Location = viper.GetString("location")
			opts.Force = viper.GetBool("force")
			opts.Duplicates = duplicates
			declaration, err := decodeJSONFlag(declarationJSON, "declaration-json")
			if err != nil {
				return err
			}
			annotation, err := decodeJSONFlag(annotationJSON, "annotation-json")
			if err != nil {
				return err
			}
			opts.Declaration = declaration
			opts.Annotation = annotation
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.AppendAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "action type (DECLARE, VALIDATE, REGISTER, ...)")
	cmd.Flags().StringVar(&status, "status", string(domain.ActionAccepted), "action status (Requested, Accepted, Rejected)")
	cmd.Flags().StringVar(&opts.TransactionID, "transaction-id", "", "idempotency key")
	cmd.Flags().StringVar(&declarationJSON, "declaration-json", "", "declaration JSON")
	cmd.Flags().StringVar(&annotationJSON, "annotation-json", "", "annotation JSON")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee (ASSIGN)")
	cmd.Flags().StringVar(&opts.RegistrationNumber, "registration-number", "", "registration number (REGISTER, minted if omitted)")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "correction request id")
	cmd.Flags().StringVar(&opts.OriginalActionID, "original-action-id", "", "original action id (correction resolution)")
	cmd.Flags().StringArrayVar(&duplicates, "duplicate-of", []string{}, "duplicate event id (repeatable)")
	cmd.Flags().StringVar(&opts.CustomType, "custom-type", "", "configured custom action type (CUSTOM)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func searchCmd() *cobra.Command {
	var queryJSON, queryFile string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search derived event state",
		Long:  "Search runs the query against re-derived state. Locally it is trusted; through the API it is gated by search scopes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(queryJSON)
			if queryFile != "" {
				data, err := os.ReadFile(queryFile)
				if err != nil {
					return err
				}
				raw = data
			}
			if len(raw) == 0 {
				return fmt.Errorf("--query-json or --query-file required")
			}
			q, err := query.Parse(raw)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Search(ctx, engine.SearchOptions{
					Query:  q,
					Limit:  limit,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Tracking", "Flags"})
				for _, idx := range res.Results {
					var flags []string
					for _, f := range idx.Flags {
						flags = append(flags, string(f))
					}
					tw.AppendRow(table.Row{idx.ID, idx.Type, idx.Status, idx.TrackingID, strings.Join(flags, ",")})
				}
				tw.Render()
				fmt.Printf("total: %d\n", res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&queryJSON, "query-json", "", "query JSON")
	cmd.Flags().StringVar(&queryFile, "query-file", "", "path to query JSON file")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func locationCmd() *cobra.Command {
	loc := &cobra.Command{
		Use:   "location",
		Short: "Manage the office location hierarchy",
	}
	loc.AddCommand(locationAddCmd())
	loc.AddCommand(locationListCmd())
	return loc
}

func locationAddCmd() *cobra.Command {
	var loc domain.Location
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertLocation(ctx, loc); err != nil {
					return err
				}
				return printJSONOrTable(loc)
			})
		},
	}
	cmd.Flags().StringVar(&loc.ID, "id", "", "location id")
	cmd.Flags().StringVar(&loc.ParentID, "parent", "", "parent location id")
	cmd.Flags().StringVar(&loc.Name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func locationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLocations(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Action log",
		Long:  "The diary of every action appended, newest first.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var eventID, actionType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actions, err := r.LatestActions(ctx, n, eventID, actionType)
				if err != nil {
					return err
				}
				return printJSONOrTable(actions)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of actions")
	cmd.Flags().StringVar(&eventID, "event-id", "", "event filter")
	cmd.Flags().StringVar(&actionType, "type", "", "action type filter")
	return cmd
}

func tokenCmd() *cobra.Command {
	var scopes []string
	var location string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dev JWT for the API (requires RECORDLINE_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("RECORDLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("RECORDLINE_JWT_SECRET is required")
			}
			now := time.Now()
			claims := jwt.MapClaims{
				"sub": viper.GetString("actor-id"),
				"iat": now.Unix(),
				"exp": now.Add(24 * time.Hour).Unix(),
			}
			if len(scopes) > 0 {
				claims["scope"] = strings.Join(scopes, " ")
			}
			if location != "" {
				claims["location"] = location
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&scopes, "scope", []string{}, "scope grant (repeatable)")
	cmd.Flags().StringVar(&location, "token-location", "", "location claim")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
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
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("RECORDLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("RECORDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Recordline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

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

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func stateOrEmpty(doc domain.EventDocument, etCfg config.EventType) (domain.EventIndex, error) {
	idx, err := state.CurrentState(doc, etCfg)
	var missing state.MissingCreateActionError
	if errors.As(err, &missing) {
		return domain.EventIndex{ID: doc.ID, Type: doc.Type}, nil
	}
	return idx, err
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

func decodeJSONFlag(raw, name string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return m, nil
}
