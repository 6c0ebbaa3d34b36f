package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config models grantmaster.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		DemoUserID    string `yaml:"demo_user_id"`
		AllowDemoUser bool   `yaml:"allow_demo_user"`
	} `yaml:"auth"`
	LLM struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	Blob struct {
		Backend       string   `yaml:"backend"`
		LocalDir      string   `yaml:"local_dir"`
		PublicBaseURL string   `yaml:"public_base_url"`
		S3            S3Config `yaml:"s3"`
	} `yaml:"blob"`
	Export struct {
		FontFamily string `yaml:"font_family"`
		FontSize   int    `yaml:"font_size"`
		Browser    struct {
			Enabled bool   `yaml:"enabled"`
			Bin     string `yaml:"bin"`
		} `yaml:"browser"`
	} `yaml:"export"`
	Mechanisms struct {
		File string `yaml:"file"`
	} `yaml:"mechanisms"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'pgx', got %q", c.Database.Driver)
	}
	switch c.Blob.Backend {
	case "local":
	case "s3":
		if c.Blob.S3.Bucket == "" || c.Blob.S3.Region == "" {
			return fmt.Errorf("config.blob.s3.bucket and config.blob.s3.region are required for backend s3")
		}
	default:
		return fmt.Errorf("config.blob.backend must be 'local' or 's3', got %q", c.Blob.Backend)
	}
	if c.Export.FontSize < 8 || c.Export.FontSize > 16 {
		return fmt.Errorf("config.export.font_size must be between 8 and 16")
	}
	if c.Auth.AllowDemoUser && c.Auth.DemoUserID == "" {
		return fmt.Errorf("config.auth.demo_user_id is required when allow_demo_user is set")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("config.llm.api_key is required when llm is enabled")
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "grantmaster.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

database:
  driver: sqlite
  dsn: ""

auth:
  jwt_secret: ""
  demo_user_id: demo-user
  allow_demo_user: true

llm:
  enabled: false
  model: gemini-2.0-flash

blob:
  backend: local
  local_dir: .grantmaster/blobs
  public_base_url: ""
  s3:
    bucket: ""
    region: us-east-1

export:
  font_family: "Arial, Helvetica, sans-serif"
  font_size: 11
  browser:
    enabled: false

mechanisms:
  file: ""

log:
  level: info
  json: false
`
