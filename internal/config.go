package internal

import (
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Storage StorageConfig     `yaml:"storage"`
	Sync    SyncConfig        `yaml:"sync"`
	Inbox   InboxConfig       `yaml:"inbox"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// StorageConfig locates the note database.
type StorageConfig struct {
	Path string `yaml:"path"`
	// SchemaVersion is the schema the database is opened at. Older databases
	// are upgraded; newer ones are refused.
	SchemaVersion int `yaml:"schema_version"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.SchemaVersion, validation.Required, validation.Min(1), validation.Max(notestore.SchemaVersion)),
	)
}

// SyncConfig selects how backlinks are regenerated on save.
type SyncConfig struct {
	Strategy linksync.Strategy `yaml:"strategy"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.Strategy == "" {
		c.Strategy = linksync.Rebuild
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Strategy, validation.In(linksync.Rebuild, linksync.Reconcile)),
	)
}

// InboxConfig configures the quick-capture directory. An empty Path
// disables the inbox.
type InboxConfig struct {
	Path         string   `yaml:"path"`
	Include      []string `yaml:"include"`
	KeepImported bool     `yaml:"keep_imported"`
}

// Enabled reports whether the inbox watcher should run.
func (c *InboxConfig) Enabled() bool {
	return c.Path != ""
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	if err := storage.ValidatePatterns(c.Include); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if !c.Enabled() && c.KeepImported {
		return errors.New("inbox: keep_imported is set but path is empty")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Path:          "./ansuz.db",
			SchemaVersion: notestore.SchemaVersion,
		},
		Sync: SyncConfig{
			Strategy: linksync.Rebuild,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
