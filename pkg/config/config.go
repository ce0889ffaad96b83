// Package config loads master settings from flags, HAMASTER_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baxromumarov/ha-master/pkg/logger"
	"github.com/baxromumarov/ha-master/pkg/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "HAMASTER"

	DefaultListen            = "localhost:8080"
	DefaultLockReadTimeout   = 20 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReapInterval      = 5 * time.Second
)

// Config is the fully resolved master configuration
type Config struct {
	Listen            string
	Self              string
	Peers             []string
	DSN               string
	LockReadTimeout   time.Duration
	TxIdleTimeout     time.Duration
	ReapInterval      time.Duration
	HeartbeatInterval time.Duration
	MemoryCapacity    int
	MetricsListen     string
	Log               logger.Config
	Telemetry         telemetry.Config
}

// BindFlags registers the master flags on fs and binds them into v,
// together with the environment.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("config", "", "path to a YAML/TOML/JSON config file")
	fs.String("listen", DefaultListen, "address to serve the transaction API on")
	fs.String("self", "", "address peers reach this node at (defaults to --listen)")
	fs.StringSlice("peers", nil, "comma separated addresses of the other cluster members")
	fs.String("dsn", "", "Postgres DSN; when empty an in-memory backend is used")
	fs.Duration("lock-read-timeout", DefaultLockReadTimeout, "lock timeout applied to every master-local transaction")
	fs.Duration("tx-idle-timeout", 0, "roll back transactions idle this long (default 2x lock-read-timeout)")
	fs.Duration("reap-interval", DefaultReapInterval, "how often idle transactions are swept")
	fs.Duration("heartbeat-interval", DefaultHeartbeatInterval, "member health check interval")
	fs.Int("memory-capacity", 0, "open transaction cap for the in-memory backend (0 = unlimited)")
	fs.String("metrics-listen", "", "address to serve Prometheus metrics on (empty disables)")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-format", "json", "json or console")
	fs.String("log-output", "stderr", "stdout, stderr or a file path")
	fs.Bool("telemetry", false, "enable OpenTelemetry metrics and tracing")
	fs.Float64("trace-sample-ratio", 1.0, "fraction of requests traced")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, err)
		}
	})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return errors.Join(errs...)
}

// Load reads the optional config file named by the "config" key and
// resolves every setting.
func Load(v *viper.Viper) (Config, error) {
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Listen:            v.GetString("listen"),
		Self:              v.GetString("self"),
		Peers:             splitPeers(v.GetStringSlice("peers")),
		DSN:               v.GetString("dsn"),
		LockReadTimeout:   v.GetDuration("lock-read-timeout"),
		TxIdleTimeout:     v.GetDuration("tx-idle-timeout"),
		ReapInterval:      v.GetDuration("reap-interval"),
		HeartbeatInterval: v.GetDuration("heartbeat-interval"),
		MemoryCapacity:    v.GetInt("memory-capacity"),
		MetricsListen:     v.GetString("metrics-listen"),
		Log: logger.Config{
			Level:  v.GetString("log-level"),
			Format: v.GetString("log-format"),
			Output: v.GetString("log-output"),
		},
		Telemetry: telemetry.Config{
			Enabled:          v.GetBool("telemetry"),
			ServiceName:      "ha-master",
			TraceSampleRatio: v.GetFloat64("trace-sample-ratio"),
		},
	}
	if cfg.Self == "" {
		cfg.Self = cfg.Listen
	}
	if cfg.TxIdleTimeout == 0 {
		cfg.TxIdleTimeout = 2 * cfg.LockReadTimeout
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the master cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.LockReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock-read-timeout must not be negative, got %s", c.LockReadTimeout))
	}
	if c.TxIdleTimeout <= 0 {
		errs = append(errs, errors.New("tx-idle-timeout must be positive (set it or lock-read-timeout)"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("reap-interval must be positive, got %s", c.ReapInterval))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat-interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("memory-capacity must not be negative, got %d", c.MemoryCapacity))
	}
	for _, p := range c.Peers {
		if p == c.Self {
			errs = append(errs, fmt.Errorf("peer list contains this node (%s)", p))
		}
	}
	return errors.Join(errs...)
}

// Members returns this node followed by its peers
func (c Config) Members() []string {
	return append([]string{c.Self}, c.Peers...)
}

func splitPeers(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
