package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"repairsync/internal/app"
	"repairsync/internal/config"
	"repairsync/internal/db"
	"repairsync/internal/migrate"
	"repairsync/internal/repo"
	"repairsync/internal/server"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "repairsync",
	Short: "RemOnline repair order synchronizer",
	Long: `repairsync mirrors RemOnline repair orders into a local database.
- Webhooks: RemOnline posts Order.* and Client.* events to the webhook route; each delivery is audited.
- Orders: created, updated and deleted idempotently; totals are derived from service lines.
- Statuses: a localized catalog (id + locale -> name, color) cached in memory.
- Admin API: JWT-protected REST API under server.base_path, see /docs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.New(cfgFile)
		if err != nil {
			return err
		}
		return bindFlags(cmd)
	},
}

func main() {
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default "+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "sqlite workspace directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
}

// flagKeys maps command flags onto config keys.
var flagKeys = map[string]string{
	"workspace": "database.workspace",
	"log-level": "log.level",
	"addr":      "server.addr",
	"base-path": "server.base_path",
}

func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(statusesCmd())
	rootCmd.AddCommand(tokenCmd())
}

func loadConfig() (*config.Config, error) {
	return config.FromViper(v)
}

func serveCmd() *cobra.Command {
	var runMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook endpoint and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ac, err := app.Open(cfg, app.Options{Migrate: runMigrations})
			if err != nil {
				return err
			}
			defer ac.Close()
			handler, err := ac.HTTPHandler()
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			ac.Logger.Info("server_started",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.String("webhook_path", cfg.Webhook.Path),
				zap.String("database", string(ac.Dialect)),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			ac.Logger.Info("server_stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runMigrations, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "admin API base path (overrides server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, dialect, err := db.Open(db.Config{Driver: cfg.Database.Driver, Workspace: cfg.Database.Workspace, URL: cfg.Database.URL})
			if err != nil {
				return err
			}
			defer conn.Close()
			res, err := migrate.Migrate(conn, dialect)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s) on %s, schema version %d\n", res.Applied, dialect, res.To)
			return nil
		},
	}
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orders", Short: "Inspect synchronized orders"}
	cmd.AddCommand(ordersListCmd())
	cmd.AddCommand(ordersShowCmd())
	return cmd
}

func ordersListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				orders, err := ac.Repo.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"External ID", "Document", "Device", "Status", "Total", "Updated"})
				for _, o := range orders {
					tw.AppendRow(table.Row{o.ExternalID, o.DocumentID, o.DeviceName, o.StatusName, o.TotalAmount.StringFixed(2), o.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StatusCode, "status", "", "status id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func ordersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <external-id>",
		Short: "Show an order and its service lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			externalID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid external id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				o, err := ac.Repo.FindByExternalID(ctx, externalID)
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("order %d not found", externalID)
				}
				if err != nil {
					return err
				}
				lines, err := ac.Repo.ListLineItems(ctx, o.ID)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(map[string]any{"order": o, "lines": lines})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"External ID", o.ExternalID},
					{"Document", o.DocumentID},
					{"Device", o.DeviceName},
					{"Serial", o.DeviceSerial},
					{"Status", fmt.Sprintf("%s (%s, %s)", o.StatusName, o.StatusCode, o.StatusColor)},
					{"Total", o.TotalAmount.StringFixed(2)},
					{"Last event", o.LastEventAt},
					{"Updated", o.UpdatedAt},
				})
				tw.Render()
				if len(lines) == 0 {
					return nil
				}
				lt := table.NewWriter()
				lt.SetOutputMirror(os.Stdout)
				lt.AppendHeader(table.Row{"Line", "Name", "Price", "Qty", "Warranty"})
				for _, l := range lines {
					warranty := ""
					if l.WarrantyPeriod > 0 {
						warranty = fmt.Sprintf("%d %s", l.WarrantyPeriod, l.WarrantyUnit)
					}
					lt.AppendRow(table.Row{l.ExternalLineID, l.Name, l.UnitPrice.StringFixed(2), l.Quantity.String(), warranty})
				}
				lt.Render()
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the webhook audit log"}
	cmd.AddCommand(auditTailCmd())
	return cmd
}

func auditTailCmd() *cobra.Command {
	f := repo.WebhookLogFilters{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest webhook deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Repo.ListWebhookLogs(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Event", "Status", "ms", "Request", "Message"})
				for _, rec := range items {
					took := ""
					if rec.ProcessingTimeMs != nil {
						took = strconv.FormatInt(*rec.ProcessingTimeMs, 10)
					}
					tw.AppendRow(table.Row{rec.ID, rec.CreatedAt, rec.EventType, rec.Status, took, rec.RequestID, rec.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of records")
	cmd.Flags().StringVar(&f.Status, "status", "", "audit status filter (received, success, failed, error)")
	cmd.Flags().StringVar(&f.EventType, "event-type", "", "event type filter")
	cmd.Flags().StringVar(&f.RequestID, "request-id", "", "request id filter")
	return cmd
}

func statusesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "statuses", Short: "Manage the localized status catalog"}
	cmd.AddCommand(statusesListCmd())
	cmd.AddCommand(statusesImportCmd())
	cmd.AddCommand(statusesExportCmd())
	return cmd
}

func statusesListCmd() *cobra.Command {
	var locale string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored status definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Repo.ListStatuses(ctx, locale)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Locale", "Name", "Color", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.StatusID, s.Locale, s.Name, s.Color, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "locale filter")
	return cmd
}

func statusesImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert status definitions from a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			catalog, err := config.StatusCatalogFromFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				n, err := ac.ImportStatuses(ctx, catalog)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d status definition(s) from %s\n", n, file)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "statuses.yml path")
	return cmd
}

func statusesExportCmd() *cobra.Command {
	var locale, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored catalog as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				catalog, err := ac.ExportStatuses(ctx, locale)
				if err != nil {
					return err
				}
				data, err := catalog.ToYAML()
				if err != nil {
					return err
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "export one locale only")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (REPAIRSYNC_AUTH_JWT_SECRET) is required to mint tokens")
			}
			token, err := server.IssueToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. an operator email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ac, err := app.Open(cfg, app.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac)
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
