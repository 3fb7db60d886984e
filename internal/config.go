package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/refdraft/internal/backfill"
	"github.com/starford/refdraft/internal/inbox"
	"github.com/starford/refdraft/internal/itemservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultPlatforms are the platform tags accepted when the config lists none.
var DefaultPlatforms = []string{
	"threads", "instagram", "x", "facebook", "linkedin", "tiktok", "naver_blog", "youtube",
}

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Inbox     InboxConfig       `yaml:"inbox"`
	Backfill  BackfillConfig    `yaml:"backfill"`
	View      ViewConfig        `yaml:"view"`
	Duplicate DuplicateConfig   `yaml:"duplicate"`
	Platforms []string          `yaml:"platforms"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if err := c.Backfill.Validate(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if err := c.View.Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}
	if err := c.Duplicate.Validate(); err != nil {
		return fmt.Errorf("duplicate: %w", err)
	}
	return validation.Validate(c.Platforms, validation.Each(validation.Required))
}

// ServiceOptions translates the config into item service options.
func (c *Config) ServiceOptions() []itemservice.Option {
	return []itemservice.Option{
		itemservice.WithBackfill(backfill.Config{
			ChunkSize:  c.Backfill.ChunkSize,
			ChunkDelay: c.Backfill.ChunkDelay,
		}),
		itemservice.WithViewDebounce(c.View.Debounce),
		itemservice.WithPlatforms(c.Platforms),
		itemservice.WithDuplicateMinLength(c.Duplicate.MinLength),
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// InboxConfig controls the Markdown import inbox.
type InboxConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	OnDuplicate inbox.Policy  `yaml:"on_duplicate"`
	Debounce    time.Duration `yaml:"debounce"`
}

// Validate validates the inbox configuration. Path is only required while
// the inbox is enabled.
func (c *InboxConfig) Validate() error {
	if c.OnDuplicate == "" {
		c.OnDuplicate = inbox.PolicySkip
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.OnDuplicate, validation.In(inbox.PolicySkip, inbox.PolicySave)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// BackfillConfig holds hash backfill parameters.
type BackfillConfig struct {
	ChunkSize  int           `yaml:"chunk_size"`
	ChunkDelay time.Duration `yaml:"chunk_delay"`
	RunOnStart bool          `yaml:"run_on_start"`
}

// Validate validates the backfill configuration.
func (c *BackfillConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1), validation.Max(backfill.DefaultChunkSize)),
		validation.Field(&c.ChunkDelay, validation.Min(time.Duration(0))),
	)
}

// ViewConfig holds filtered view cache settings.
type ViewConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the view configuration.
func (c *ViewConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// DuplicateConfig holds duplicate detection settings.
type DuplicateConfig struct {
	// MinLength is the shortest text checked by live duplicate hints.
	MinLength int `yaml:"min_length"`
}

// Validate validates the duplicate configuration.
func (c *DuplicateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MinLength, validation.Min(0)),
	)
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./refdraft.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Inbox: InboxConfig{
			Enabled:     true,
			Path:        "./inbox",
			OnDuplicate: inbox.PolicySkip,
			Debounce:    inbox.DefaultDebounce,
		},
		Backfill: BackfillConfig{
			ChunkSize:  backfill.DefaultChunkSize,
			ChunkDelay: 100 * time.Millisecond,
		},
		View: ViewConfig{
			Debounce: 150 * time.Millisecond,
		},
		Duplicate: DuplicateConfig{
			MinLength: 10,
		},
		Platforms: append([]string(nil), DefaultPlatforms...),
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
