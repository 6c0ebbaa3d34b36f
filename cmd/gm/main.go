package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grantmaster/internal/app"
	"grantmaster/internal/config"
	"grantmaster/internal/logging"
	"grantmaster/internal/server"
)

var (
	loadedCfg *config.Config
	logger    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "gm",
	Short: "Grant Master CLI",
	Long: `Grant Master drafts, validates and exports NIH grant applications.

- Mechanism: a funding vehicle (R01, R21, R43...) with required sections, page limits and attachments.
- Application: a draft created from a mechanism template, owned by one user.
- Validation: page limits, required headings and required attachments decide whether a package can be exported.
- Export: sections are assembled into a package and rendered as pdf, docx, html or markdown.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg, err := loadConfig(workspace, viper.GetString("config"))
		if err != nil {
			return err
		}
		if lvl := viper.GetString("log-level"); lvl != "" {
			cfg.Log.Level = lvl
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		l, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
		if err != nil {
			return err
		}
		loadedCfg, logger = cfg, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GRANTMASTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/grantmaster.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "", "acting user id (default auth.demo_user_id)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "config", "json", "user-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(mechanismCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(sectionCmd())
	rootCmd.AddCommand(attachmentCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(tokenCmd())
}

// loadConfig reads the config file and applies secret overrides from the
// environment.
func loadConfig(workspace, path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *config.Config) {
	overrides := map[string]*string{
		"jwt_secret":    &cfg.Auth.JWTSecret,
		"llm_api_key":   &cfg.LLM.APIKey,
		"database_dsn":  &cfg.Database.DSN,
		"s3_access_key": &cfg.Blob.S3.AccessKey,
		"s3_secret_key": &cfg.Blob.S3.SecretKey,
	}
	for key, dst := range overrides {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if driver := viper.GetString("database_driver"); driver != "" {
		cfg.Database.Driver = driver
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

func userID() string {
	if id := strings.TrimSpace(viper.GetString("user-id")); id != "" {
		return id
	}
	if loadedCfg != nil && loadedCfg.Auth.DemoUserID != "" {
		return loadedCfg.Auth.DemoUserID
	}
	return "local-user"
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), loadedCfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				sc := rt.ServerConfig()
				if cmd.Flags().Changed("base-path") {
					sc.BasePath = basePath
				}
				if !cmd.Flags().Changed("addr") {
					addr = rt.Config.Server.Addr
				}
				if sc.Auth.JWTSecret == "" && !sc.Auth.AllowDemoUser {
					return fmt.Errorf("GRANTMASTER_JWT_SECRET is required when the demo user is disabled")
				}
				handler, err := server.New(sc)
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
					BaseContext:       func(net.Listener) context.Context { return ctx },
				}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					logger.Info("serving api", zap.String("addr", addr), zap.String("base_path", sc.BasePath))
					fmt.Printf("Serving Grant Master API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, sc.BasePath, sc.BasePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (default server.base_path)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Config lives in grantmaster.yml in the workspace. Secrets can be supplied through GRANTMASTER_* environment variables or a .env file.",
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
		Short: "Write a default grantmaster.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			masked := *loadedCfg
			for _, s := range []*string{&masked.Auth.JWTSecret, &masked.LLM.APIKey, &masked.Blob.S3.SecretKey} {
				if *s != "" {
					*s = "********"
				}
			}
			return printJSON(masked)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			// PersistentPreRunE already validated it.
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": true})
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "DEV ONLY: mint a bearer token for --user-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(loadedCfg.Auth.JWTSecret, userID(), ttl)
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
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 never expires)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
