package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantmaster/internal/advisor"
	"grantmaster/internal/blob"
	"grantmaster/internal/config"
	"grantmaster/internal/engine"
	"grantmaster/internal/export"
)

func TestOpenWiresDefaults(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), ws, config.Default(), nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.FileExists(t, filepath.Join(ws, ".grantmaster", "grantmaster.db"))
	store, ok := rt.Engine.Blob.(blob.LocalStore)
	require.True(t, ok, "expected local blob store, got %T", rt.Engine.Blob)
	assert.Equal(t, filepath.Join(ws, ".grantmaster", "blobs"), store.Dir)
	assert.IsType(t, advisor.Disabled{}, rt.Engine.Advisor)
	assert.IsType(t, export.DisabledPrinter{}, rt.Engine.Printer)
	assert.Equal(t, 11, rt.Engine.Style.FontSize)

	app, err := rt.Engine.CreateApplication(context.Background(), engine.CreateApplicationOptions{
		Title: "Smoke", Mechanism: "R01", ActorID: "demo-user",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, app.Sections)

	sc := rt.ServerConfig()
	assert.Equal(t, "/v1", sc.BasePath)
	assert.True(t, sc.Auth.AllowDemoUser)
}

func TestOpenLoadsCustomMechanisms(t *testing.T) {
	ws := t.TempDir()
	yml := strings.Join([]string{
		"mechanisms:",
		"  - id: X01",
		"    name: Pilot",
		"    sections:",
		"      - type: aims",
		"        title: Aims",
		"        page_limit: 1",
		"    attachments: []",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(ws, "mechs.yml"), []byte(yml), 0o644))
	cfg := config.Default()
	cfg.Mechanisms.File = "mechs.yml"

	rt, err := Open(context.Background(), ws, cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, []string{"X01"}, rt.Engine.Registry.Codes())
}

func TestOpenRejectsMissingMechanismFile(t *testing.T) {
	cfg := config.Default()
	cfg.Mechanisms.File = "missing.yml"
	_, err := Open(context.Background(), t.TempDir(), cfg, nil)
	assert.ErrorContains(t, err, "load mechanisms")
}
