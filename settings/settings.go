// Package settings resolves process settings from flags, QUEUECTL_* environment
// variables, an optional .env file and an optional YAML config file, in that order of
// precedence.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "QUEUECTL"

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Keys double as flag names.
const (
	KeyConfig         = "config"
	KeyHome           = "home"
	KeyBackend        = "backend"
	KeyDSN            = "dsn"
	KeyLogLevel       = "log-level"
	KeyHTTPAddr       = "http-addr"
	KeyPollInterval   = "poll-interval"
	KeyCommandTimeout = "command-timeout"
	KeyOrphanAfter    = "orphan-after"
)

var ErrInvalid = errors.New("settings: invalid value")

type Settings struct {
	Home           string
	Backend        string
	DSN            string
	LogLevel       zerolog.Level
	HTTPAddr       string
	PollInterval   time.Duration
	CommandTimeout time.Duration
	OrphanAfter    time.Duration
}

// LogFile is where detached workers write their output.
func (s Settings) LogFile() string {
	return filepath.Join(s.Home, "logs", "workers.log")
}

// Manager binds a flag set to viper.
type Manager struct {
	v     *viper.Viper
	flags *pflag.FlagSet
}

// NewManager registers the settings flags on flags, usually a root command's
// persistent flags.
func NewManager(flags *pflag.FlagSet) *Manager {
	m := &Manager{v: viper.New(), flags: flags}
	m.v.SetEnvPrefix(envPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	m.addString(KeyConfig, "", "YAML config file")
	m.addString(KeyHome, defaultHome(), "data directory")
	m.addString(KeyBackend, BackendFile, "storage backend: file or postgres")
	m.addString(KeyDSN, "", "Postgres connection string (postgres backend)")
	m.addString(KeyLogLevel, "info", "log level")
	m.addString(KeyHTTPAddr, ":3001", "HTTP API listen address")
	m.addDuration(KeyPollInterval, time.Second, "worker sleep when the queue is empty")
	m.addDuration(KeyCommandTimeout, 60*time.Second, "per-command timeout")
	m.addDuration(KeyOrphanAfter, 2*time.Minute, "age after which an unowned processing job is requeued")
	return m
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".queuectl"
	}
	return filepath.Join(home, ".queuectl")
}

// EnvName is the environment variable that sets key.
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func usage(key, text string) string {
	return fmt.Sprintf("%s (env %s)", text, EnvName(key))
}

func (m *Manager) addString(key, def, text string) {
	m.flags.String(key, def, usage(key, text))
	_ = m.v.BindPFlag(key, m.flags.Lookup(key))
}

func (m *Manager) addDuration(key string, def time.Duration, text string) {
	m.flags.Duration(key, def, usage(key, text))
	_ = m.v.BindPFlag(key, m.flags.Lookup(key))
}

// Load resolves the settings. envFiles default to ".env" in the working directory;
// missing files are ignored. Values from env files never override the real environment.
func (m *Manager) Load(envFiles ...string) (Settings, error) {
	if path := m.v.GetString(KeyConfig); path != "" {
		m.v.SetConfigFile(path)
		m.v.SetConfigType("yaml")
		if err := m.v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Settings{}, fmt.Errorf("read %s: %w", f, err)
		}
		if err := m.v.MergeConfigMap(dotenvKeys(vals)); err != nil {
			return Settings{}, fmt.Errorf("merge %s: %w", f, err)
		}
	}

	level, err := zerolog.ParseLevel(m.v.GetString(KeyLogLevel))
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyLogLevel, err)
	}

	s := Settings{
		Home:           m.v.GetString(KeyHome),
		Backend:        m.v.GetString(KeyBackend),
		DSN:            m.v.GetString(KeyDSN),
		LogLevel:       level,
		HTTPAddr:       m.v.GetString(KeyHTTPAddr),
		PollInterval:   m.v.GetDuration(KeyPollInterval),
		CommandTimeout: m.v.GetDuration(KeyCommandTimeout),
		OrphanAfter:    m.v.GetDuration(KeyOrphanAfter),
	}
	return s, s.validate()
}

// dotenvKeys maps QUEUECTL_FOO_BAR=... to foo-bar. Other variables are ignored.
func dotenvKeys(vals map[string]string) map[string]any {
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		rest, ok := strings.CutPrefix(k, envPrefix+"_")
		if !ok {
			continue
		}
		out[strings.ReplaceAll(strings.ToLower(rest), "_", "-")] = v
	}
	return out
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.Home) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalid, KeyHome)
	}
	switch s.Backend {
	case BackendFile:
	case BackendPostgres:
		if s.DSN == "" {
			return fmt.Errorf("%w: the postgres backend needs --%s", ErrInvalid, KeyDSN)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, s.Backend)
	}
	if s.PollInterval <= 0 || s.CommandTimeout <= 0 || s.OrphanAfter <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalid)
	}
	return nil
}
