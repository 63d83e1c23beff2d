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

	"heartmend/internal/app"
	"heartmend/internal/config"
	"heartmend/internal/engine"
	"heartmend/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hm",
	Short: "Heartmend CLI",
	Long: `Heartmend generates structured relationship-repair plans.
A case captures what happened and what the user wants to fix; generation
produces apology drafts, conversation outlines, and action plans, with a
safety filter gating every request. The chat mode offers free-form
conversation with the same safety posture.`,
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
	viper.SetEnvPrefix("HEARTMEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, cleanup, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer cleanup()
			cfg := e.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.JWTSecret
			if secret == "" {
				secret = os.Getenv("HEARTMEND_JWT_SECRET")
			}
			if secret == "" && !cfg.Server.AllowLegacyUserHeader {
				return fmt.Errorf("jwt secret required: set server.jwt_secret or HEARTMEND_JWT_SECRET")
			}
			if l, ok := e.Limiter.(interface{ Start() }); ok {
				l.Start()
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:             secret,
					AllowLegacyUserHeader: cfg.Server.AllowLegacyUserHeader,
				},
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
			fmt.Printf("Serving Heartmend API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default heartmend.yml",
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
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage repair cases"}
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseDeleteCmd())
	return c
}

func caseListCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListCases(ctx, viper.GetString("user-id"), limit, offset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Conflict", "Stage", "Status", "Sent", "Created"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.ConflictType, it.RelationshipStage, it.GenerationStatus, it.MarkedSent, it.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max cases")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case with its plan and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				detail, err := e.GetCase(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteCase(ctx, viper.GetString("user-id"), args[0])
			})
		},
	}
	return cmd
}

func chatCmd() *cobra.Command {
	c := &cobra.Command{Use: "chat", Short: "Manage chat sessions"}
	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListChatSessions(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Messages", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.MessageCount, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a chat session with messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				detail, err := e.GetChatSession(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteChatSession(ctx, viper.GetString("user-id"), args[0])
			})
		},
	})
	return c
}

func prefsCmd() *cobra.Command {
	p := &cobra.Command{Use: "prefs", Short: "Manage preferences"}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				prefs, err := e.GetPreferences(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(prefs)
			})
		},
	})
	p.AddCommand(prefsSetCmd())
	return p
}

func prefsSetCmd() *cobra.Command {
	var provider, tone string
	var saveRaw, analytics bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				upd := engine.PreferencesUpdate{}
				if cmd.Flags().Changed("provider") {
					upd.PreferredProvider = &provider
				}
				if cmd.Flags().Changed("tone") {
					upd.DefaultTone = &tone
				}
				if cmd.Flags().Changed("save-raw-inputs") {
					upd.SaveRawInputs = &saveRaw
				}
				if cmd.Flags().Changed("analytics") {
					upd.EnableAnalytics = &analytics
				}
				prefs, err := e.UpdatePreferences(ctx, viper.GetString("user-id"), upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(prefs)
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "preferred provider")
	cmd.Flags().StringVar(&tone, "tone", "", "default tone (sincere, gentle, formal, casual)")
	cmd.Flags().BoolVar(&saveRaw, "save-raw-inputs", false, "store case narratives")
	cmd.Flags().BoolVar(&analytics, "analytics", true, "enable analytics events")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent analytics events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.RecentEvents(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "User"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.UserID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max events")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for the given user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if secret == "" {
				secret = os.Getenv("HEARTMEND_JWT_SECRET")
			}
			token, err := server.MintToken(secret, viper.GetString("user-id"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, cleanup, err := app.Bootstrap(workspace)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, e)
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
