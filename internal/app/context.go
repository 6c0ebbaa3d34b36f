package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"grantmaster/internal/advisor"
	"grantmaster/internal/blob"
	"grantmaster/internal/config"
	"grantmaster/internal/db"
	"grantmaster/internal/engine"
	"grantmaster/internal/export"
	"grantmaster/internal/mechanism"
	"grantmaster/internal/migrate"
	"grantmaster/internal/server"
)

// Runtime is an engine wired from config together with the resources it
// holds open.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Log       *zap.Logger
	conn      *sql.DB
}

// Open connects the database, applies migrations and wires the optional
// collaborators (blob store, advisor, browser printer) named by cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	reg, err := registry(workspace, cfg)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: workspace,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e := engine.New(conn, dialect, reg)
	e.Log = log
	e.Style = export.Style{FontFamily: cfg.Export.FontFamily, FontSize: cfg.Export.FontSize}
	if e.Blob, err = blobStore(ctx, workspace, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.LLM.Enabled {
		g, err := advisor.NewGenAI(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("llm advisor: %w", err)
		}
		e.Advisor = g
	}
	if cfg.Export.Browser.Enabled {
		e.Printer = export.BrowserPrinter{Bin: cfg.Export.Browser.Bin}
	}
	log.Debug("runtime ready",
		zap.String("driver", string(dialect)),
		zap.String("blob", cfg.Blob.Backend),
		zap.Bool("llm", cfg.LLM.Enabled),
		zap.Strings("mechanisms", reg.Codes()),
	)
	return &Runtime{Workspace: workspace, Config: cfg, Engine: e, Log: log, conn: conn}, nil
}

// ServerConfig maps the loaded config onto the HTTP handler config.
func (r *Runtime) ServerConfig() server.Config {
	return server.Config{
		Engine:   r.Engine,
		BasePath: r.Config.Server.BasePath,
		Logger:   r.Log,
		Auth: server.AuthConfig{
			JWTSecret:     r.Config.Auth.JWTSecret,
			DemoUserID:    r.Config.Auth.DemoUserID,
			AllowDemoUser: r.Config.Auth.AllowDemoUser,
			Logger:        r.Log,
		},
	}
}

func (r *Runtime) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func registry(workspace string, cfg *config.Config) (*mechanism.Registry, error) {
	if cfg.Mechanisms.File == "" {
		return mechanism.Default(), nil
	}
	reg, err := mechanism.LoadFile(resolve(workspace, cfg.Mechanisms.File))
	if err != nil {
		return nil, fmt.Errorf("load mechanisms: %w", err)
	}
	return reg, nil
}

func blobStore(ctx context.Context, workspace string, cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "s3":
		s3cfg := cfg.Blob.S3
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    s3cfg.Bucket,
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		return store, nil
	case "local", "":
		dir := cfg.Blob.LocalDir
		if dir == "" {
			return nil, errors.New("config.blob.local_dir is required for backend local")
		}
		return blob.LocalStore{Dir: resolve(workspace, dir), BaseURL: cfg.Blob.PublicBaseURL}, nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
}

func resolve(workspace, p string) string {
	if filepath.IsAbs(p) || workspace == "" {
		return p
	}
	return filepath.Join(workspace, p)
}
