package config

import (
	"fmt"
	"strings"

	"errors"
	"os"

	"github.com/spf13/viper"

	"gatewarden/internal/auth"
	"gatewarden/internal/creds"
	"gatewarden/internal/knownhosts"
	"gatewarden/internal/recordings"
)

// Config holds all application settings loaded from file and environment variables.
// Struct tags are used by the Viper mapstructure decoder.
type Config struct {
	Server     Server            `mapstructure:"server"`
	Target     Target            `mapstructure:"target"`
	Auth       Auth              `mapstructure:"auth"`
	Limits     Limits            `mapstructure:"limits"`
	Database   Database          `mapstructure:"database"`
	Recordings recordings.Config `mapstructure:"recordings"`
	HostKey    HostKey           `mapstructure:"host_key"`
}

type Server struct {
	Port        int    `mapstructure:"port"`
	Host        string `mapstructure:"host"`
	HostKeyPath string `mapstructure:"host_key_path"`
}

type Target struct {
	DefaultAddr string `mapstructure:"default_addr"`
	DefaultUser string `mapstructure:"default_user"`
}

// Auth declares the accounts the bastion accepts. Accounts live here when
// no database is configured; with a database DSN set, these entries seed
// the user table on boot instead.
type Auth struct {
	Users []UserEntry `mapstructure:"users"`
}

// UserEntry is one account as written in the config file. Credentials are
// stored forms only — a plaintext password never appears in config.
type UserEntry struct {
	Username     string      `mapstructure:"username"`
	PasswordHash string      `mapstructure:"password_hash"`
	PublicKeys   []string    `mapstructure:"public_keys"` // authorized_keys lines
	TotpSecret   string      `mapstructure:"totp_secret"` // base32
	Sso          *SsoEntry   `mapstructure:"sso"`
	Require      PolicyEntry `mapstructure:"require"`
	Roles        []string    `mapstructure:"roles"`
}

type SsoEntry struct {
	Provider string `mapstructure:"provider"` // empty = any provider
	Email    string `mapstructure:"email"`
}

// PolicyEntry lists required credential kinds per protocol. An absent
// protocol carries no policy for it.
type PolicyEntry struct {
	SSH      []string `mapstructure:"ssh"`
	HTTP     []string `mapstructure:"http"`
	Database []string `mapstructure:"database"`
}

// Limits controls maximum concurrency for connections and channels.
type Limits struct {
	MaxConnections     int `mapstructure:"max_connections"`
	MaxChannelsPerConn int `mapstructure:"max_channels_per_conn"`
}

// Database selects the persistence backend. An empty DSN keeps everything
// in memory: config-declared users, no known-hosts persistence across
// restarts, no session rows.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// HostKey controls how unknown target host keys are handled.
type HostKey struct {
	// Mode is one of "prompt", "auto_accept", "auto_reject".
	Mode string `mapstructure:"mode"`
}

// Load reads configuration from a file and allows environment variables to override any value.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.port", "GATEWARDEN_PORT")
	v.BindEnv("server.host", "GATEWARDEN_HOST")
	v.BindEnv("server.host_key_path", "GATEWARDEN_HOST_KEY")
	v.BindEnv("target.default_addr", "TARGET_ADDR")
	v.BindEnv("target.default_user", "TARGET_USER")
	v.BindEnv("database.dsn", "GATEWARDEN_DB_DSN")
	v.BindEnv("recordings.path", "GATEWARDEN_RECORDINGS_PATH")
	v.BindEnv("host_key.mode", "GATEWARDEN_HOST_KEY_MODE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// isNotFound returns true when err indicates the config file does not exist.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr)
}

// setDefaults defines baseline values for all configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 2222)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.host_key_path", "host_key")
	v.SetDefault("target.default_addr", "127.0.0.1:22")
	v.SetDefault("limits.max_connections", 100)
	v.SetDefault("limits.max_channels_per_conn", 10)
	v.SetDefault("recordings.enable", false)
	v.SetDefault("recordings.path", "./recordings")
	v.SetDefault("host_key.mode", string(knownhosts.ModePrompt))
}

// validate rejects configurations that cannot be acted on.
func (c *Config) validate() error {
	switch knownhosts.Mode(c.HostKey.Mode) {
	// An empty mode falls back to prompt, same as the bridge itself.
	case "", knownhosts.ModePrompt, knownhosts.ModeAutoAccept, knownhosts.ModeAutoReject:
	default:
		return fmt.Errorf("config: unknown host_key.mode %q", c.HostKey.Mode)
	}
	if c.Recordings.Enable && c.Recordings.Path == "" {
		return fmt.Errorf("config: recordings.enable is set but recordings.path is empty")
	}
	return nil
}

// Users converts the config-declared accounts into engine users.
func (c *Config) Users() ([]*auth.User, error) {
	users := make([]*auth.User, 0, len(c.Auth.Users))
	for _, e := range c.Auth.Users {
		u, err := e.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (e UserEntry) toUser() (*auth.User, error) {
	if e.Username == "" {
		return nil, fmt.Errorf("config: user entry without username")
	}

	var stored []creds.Stored
	if e.PasswordHash != "" {
		stored = append(stored, creds.PasswordHash{Hash: e.PasswordHash})
	}
	for _, line := range e.PublicKeys {
		key, err := creds.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("config: user %q: %w", e.Username, err)
		}
		stored = append(stored, key)
	}
	if e.TotpSecret != "" {
		stored = append(stored, creds.TotpKey{Secret: e.TotpSecret})
	}
	if e.Sso != nil {
		binding := creds.SsoBinding{Email: e.Sso.Email}
		if e.Sso.Provider != "" {
			provider := e.Sso.Provider
			binding.Provider = &provider
		}
		stored = append(stored, binding)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("config: user %q has no credentials", e.Username)
	}

	policy, err := e.Require.toPolicy()
	if err != nil {
		return nil, fmt.Errorf("config: user %q: %w", e.Username, err)
	}

	return &auth.User{
		Username:    e.Username,
		Credentials: stored,
		Policy:      policy,
		Roles:       e.Roles,
	}, nil
}

// toPolicy returns nil when no protocol lists any kind, which the engine
// treats as "no policy".
func (p PolicyEntry) toPolicy() (*creds.Policy, error) {
	if len(p.SSH) == 0 && len(p.HTTP) == 0 && len(p.Database) == 0 {
		return nil, nil
	}
	out := &creds.Policy{}
	var err error
	if out.SSH, err = toKinds(p.SSH); err != nil {
		return nil, err
	}
	if out.HTTP, err = toKinds(p.HTTP); err != nil {
		return nil, err
	}
	if out.Database, err = toKinds(p.Database); err != nil {
		return nil, err
	}
	return out, nil
}

func toKinds(names []string) ([]creds.Kind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]creds.Kind, 0, len(names))
	for _, name := range names {
		kind, err := creds.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
