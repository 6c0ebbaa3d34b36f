package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantmaster/internal/app"
	"grantmaster/internal/config"
	"grantmaster/internal/engine"
)

func TestApplyEnvOverrides(t *testing.T) {
	initConfig()
	t.Setenv("GRANTMASTER_JWT_SECRET", "s3cret")
	t.Setenv("GRANTMASTER_DATABASE_DRIVER", "pgx")
	t.Setenv("GRANTMASTER_DATABASE_DSN", "postgres://gm@localhost/gm")
	t.Setenv("GRANTMASTER_LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg := config.Default()
	applyEnvOverrides(cfg)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://gm@localhost/gm", cfg.Database.DSN)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestExportFileFormats(t *testing.T) {
	ctx := context.Background()
	rt, err := app.Open(ctx, t.TempDir(), config.Default(), nil)
	require.NoError(t, err)
	defer rt.Close()

	detail, err := rt.Engine.CreateApplication(ctx, engine.CreateApplicationOptions{
		Title: "Sepsis Pilot", Mechanism: "R21", PrincipalInvestigator: "Dr. Kim", ActorID: "cli",
	})
	require.NoError(t, err)
	_, err = rt.Engine.SaveSection(ctx, engine.SaveSectionOptions{
		ApplicationID: detail.ID, SectionID: "specific_aims", Content: "Aim 1: detect sepsis.", ActorID: "cli",
	})
	require.NoError(t, err)
	pkg, err := rt.Engine.BuildPackage(ctx, detail.ID, "cli")
	require.NoError(t, err)

	f, err := exportFile(ctx, rt.Engine, pkg, engine.PackageExportOptions{Format: "pdf"}, false)
	require.NoError(t, err)
	assert.Equal(t, "Sepsis_Pilot.pdf", f.Filename)
	assert.True(t, bytes.HasPrefix(f.Data, []byte("%PDF")))

	f, err = exportFile(ctx, rt.Engine, pkg, engine.PackageExportOptions{Format: "markdown", IncludeCoverPage: true}, false)
	require.NoError(t, err)
	assert.Equal(t, "Sepsis_Pilot.md", f.Filename)
	assert.Contains(t, string(f.Data), "Aim 1: detect sepsis.")

	_, err = exportFile(ctx, rt.Engine, pkg, engine.PackageExportOptions{Format: "html"}, true)
	assert.Error(t, err)
}
