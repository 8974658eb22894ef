// Package config loads and validates the daemon's typed configuration from
// a YAML file, an environment-variable overlay (KANDEV_ prefix), and
// built-in defaults, following the teacher's viper-based loader shape.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/kandev/daemon/internal/platform/logger"
)

// DaemonConfig controls process-level paths and supervisor behaviour.
type DaemonConfig struct {
	DataDir    string `mapstructure:"dataDir"`
	PIDFile    string `mapstructure:"pidFile"`
	LogFile    string `mapstructure:"logFile"`
	DBFile     string `mapstructure:"dbFile"`
	SocketPath string `mapstructure:"socketPath"`
}

// ServerConfig controls the transport endpoints.
type ServerConfig struct {
	HTTPPort         int    `mapstructure:"httpPort"`
	HTTPHost         string `mapstructure:"httpHost"`
	WSPort           int    `mapstructure:"wsPort"`
	EnableUnixSocket bool   `mapstructure:"enableUnixSocket"`
	EnableHTTP       bool   `mapstructure:"enableHttp"`
	EnableWebSocket  bool   `mapstructure:"enableWebSocket"`
}

// LoggingConfig controls the logger's level, destination, and rotation.
type LoggingConfig struct {
	LogLevel       string `mapstructure:"logLevel"`
	LogFormat      string `mapstructure:"logFormat"`
	LogToStdout    bool   `mapstructure:"logToStdout"`
	MaxLogFileSize int    `mapstructure:"maxLogFileSize"`
	MaxLogFiles    int    `mapstructure:"maxLogFiles"`
}

// SupervisorConfig controls the restart circuit breaker.
type SupervisorConfig struct {
	MaxRestarts     int `mapstructure:"maxRestarts"`
	RestartWindowS  int `mapstructure:"restartWindow"`
	RestartBackoffS int `mapstructure:"restartBackoff"`
}

// WorkerConfig controls worker-kernel behaviour not owned by a transport.
type WorkerConfig struct {
	HealthCheckIntervalS int  `mapstructure:"healthCheckInterval"`
	ReconcileOnStart     bool `mapstructure:"reconcileOnStart"`
}

// RuntimeEntry is one configured Runtime Adapter, keyed by ID in
// Config.Runtimes. Type-specific fields are carried in Options.
type RuntimeEntry struct {
	Type    string            `mapstructure:"type"` // local-tmux|docker|k8s|ssh
	Default bool              `mapstructure:"default"`
	Options map[string]string `mapstructure:"options"`
}

// NATSConfig selects an external event bus; empty URL keeps the in-memory
// bus.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// Config is the fully-resolved, validated daemon configuration.
type Config struct {
	Daemon     DaemonConfig            `mapstructure:"daemon"`
	Server     ServerConfig            `mapstructure:"server"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Supervisor SupervisorConfig        `mapstructure:"supervisor"`
	Worker     WorkerConfig            `mapstructure:"worker"`
	NATS       NATSConfig              `mapstructure:"nats"`
	Runtimes   map[string]RuntimeEntry `mapstructure:"runtime"`

	configPath string
}

func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join("C:\\", "ProgramData", "kandev")
	}
	return filepath.Join("/var", "lib", "kandev")
}

func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()
	v.SetDefault("daemon.dataDir", dataDir)
	v.SetDefault("daemon.pidFile", filepath.Join(dataDir, "kandev.pid"))
	v.SetDefault("daemon.logFile", filepath.Join(dataDir, "kandev.log"))
	v.SetDefault("daemon.dbFile", filepath.Join(dataDir, "kandev.db"))
	v.SetDefault("daemon.socketPath", filepath.Join(dataDir, "kandev.sock"))

	v.SetDefault("server.httpPort", 8420)
	v.SetDefault("server.httpHost", "127.0.0.1")
	v.SetDefault("server.wsPort", 8421)
	v.SetDefault("server.enableUnixSocket", true)
	v.SetDefault("server.enableHttp", true)
	v.SetDefault("server.enableWebSocket", true)

	v.SetDefault("logging.logLevel", "info")
	v.SetDefault("logging.logFormat", logger.DetectDefaultFormat())
	v.SetDefault("logging.logToStdout", true)
	v.SetDefault("logging.maxLogFileSize", 100)
	v.SetDefault("logging.maxLogFiles", 5)

	v.SetDefault("supervisor.maxRestarts", 5)
	v.SetDefault("supervisor.restartWindow", 30)
	v.SetDefault("supervisor.restartBackoff", 60)

	v.SetDefault("worker.healthCheckInterval", 15)
	v.SetDefault("worker.reconcileOnStart", true)
}

// Load reads config.yaml from the current directory and standard search
// paths, overlaid by KANDEV_-prefixed environment variables.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads the config file at configPath (or discovers one via
// viper's search paths when empty), validates it, and returns the typed
// Config.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KANDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds for keys whose env form breaks the automatic
	// camelCase -> SNAKE_CASE mapping.
	bindings := map[string]string{
		"daemon.dataDir":          "KANDEV_DATA_DIR",
		"daemon.pidFile":          "KANDEV_PID_FILE",
		"daemon.logFile":          "KANDEV_LOG_FILE",
		"daemon.dbFile":           "KANDEV_DB_FILE",
		"daemon.socketPath":       "KANDEV_SOCKET_PATH",
		"server.httpPort":         "KANDEV_HTTP_PORT",
		"server.httpHost":         "KANDEV_HTTP_HOST",
		"server.wsPort":           "KANDEV_WS_PORT",
		"logging.logLevel":        "KANDEV_LOG_LEVEL",
		"logging.logFormat":       "KANDEV_LOG_FORMAT",
		"nats.url":                "KANDEV_NATS_URL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kandev")
		v.AddConfigPath("$HOME/.config/kandev")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.configPath = configPath
	return &cfg, nil
}

// Reload re-reads the same config file (or search paths) this Config was
// originally loaded from, per spec §6's daemon.reload RPC method.
func (c *Config) Reload() (*Config, error) {
	return LoadWithPath(c.configPath)
}

func validate(cfg *Config) error {
	if !filepath.IsAbs(cfg.Daemon.DataDir) {
		return fmt.Errorf("config: daemon.dataDir must be absolute, got %q", cfg.Daemon.DataDir)
	}
	if !cfg.Server.EnableUnixSocket && !cfg.Server.EnableHTTP && !cfg.Server.EnableWebSocket {
		return fmt.Errorf("config: at least one transport must be enabled")
	}
	for _, port := range []int{cfg.Server.HTTPPort, cfg.Server.WSPort} {
		if port != 0 && (port < 1024 || port > 65535) {
			return fmt.Errorf("config: port %d out of range 1024-65535", port)
		}
	}
	switch strings.ToLower(cfg.Logging.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.logLevel %q invalid", cfg.Logging.LogLevel)
	}
	for id, r := range cfg.Runtimes {
		switch r.Type {
		case "local-tmux", "docker", "k8s", "ssh":
		default:
			return fmt.Errorf("config: runtime %q has unknown type %q", id, r.Type)
		}
	}
	return nil
}

// DefaultRuntimeID returns the ID of a runtime marked Default, or any one
// configured runtime if none is marked, or "" if none are configured. The
// runtimes live in a map, so which one is picked among several candidates
// is not defined.
func (c *Config) DefaultRuntimeID() string {
	for id, r := range c.Runtimes {
		if r.Default {
			return id
		}
	}
	for id := range c.Runtimes {
		return id
	}
	return ""
}
