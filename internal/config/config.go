package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" as well as integer nanosecond counts.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("unsupported duration value %v", raw)
	}
}

// Config captures the settings required to run a node.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Node      NodeConfig      `yaml:"node"`
	Lists     ListsConfig     `yaml:"lists"`
	Cache     CacheConfig     `yaml:"cache"`
	Peer      PeerConfig      `yaml:"peer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	MetricsAddr     string   `yaml:"metricsAddr"`
	GracefulTimeout Duration `yaml:"gracefulTimeout"`
	IndexFile       string   `yaml:"indexFile"`
}

// NodeConfig identifies this node in the peer mesh.
type NodeConfig struct {
	ID     string `yaml:"id"`
	DBPath string `yaml:"dbPath"`
}

// ListsConfig points at the flat text files naming watched units and peers.
type ListsConfig struct {
	ServicesFile string `yaml:"servicesFile"`
	MonitorsFile string `yaml:"monitorsFile"`
}

// CacheConfig controls the per-service error cache lock discipline.
type CacheConfig struct {
	LockWait  Duration `yaml:"lockWait"`
	LockStale Duration `yaml:"lockStale"`
	LockPoll  Duration `yaml:"lockPoll"`
}

// PeerConfig controls outbound calls for proxying and aggregation.
type PeerConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AlertsConfig controls the health-transition watcher.
type AlertsConfig struct {
	Interval         Duration `yaml:"interval"`
	Cooldown         Duration `yaml:"cooldown"`
	TelegramBotToken string   `yaml:"telegramBotToken"`
	TelegramChatID   string   `yaml:"telegramChatID"`
}

// RetentionConfig controls the janitor pass.
type RetentionConfig struct {
	Interval Duration `yaml:"interval"`
}

// Load initialises Config from a YAML file and environment overrides.
// A missing path falls back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("UNITMON_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	// Node IDs travel in a comma-separated visited set during aggregation;
	// commas or whitespace in an ID would corrupt that encoding.
	if strings.ContainsAny(cfg.Node.ID, ", \t") {
		return cfg, fmt.Errorf("node id %q must not contain commas or whitespace", cfg.Node.ID)
	}
	return cfg, nil
}

func defaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unitmon-local"
	}
	return Config{
		Server: ServerConfig{
			Addr:            ":8900",
			MetricsAddr:     ":2112",
			GracefulTimeout: Duration(10 * time.Second),
			IndexFile:       "./web/index.html",
		},
		Node: NodeConfig{
			ID:     hostname,
			DBPath: "./data/unitmon.db",
		},
		Lists: ListsConfig{
			ServicesFile: "/etc/unitmon/services.list",
			MonitorsFile: "/etc/unitmon/monitors.list",
		},
		Cache: CacheConfig{
			LockWait:  Duration(30 * time.Second),
			LockStale: Duration(60 * time.Second),
			LockPoll:  Duration(250 * time.Millisecond),
		},
		Peer: PeerConfig{
			Timeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Alerts: AlertsConfig{
			Interval: Duration(30 * time.Second),
			Cooldown: Duration(10 * time.Minute),
		},
		Retention: RetentionConfig{
			Interval: Duration(6 * time.Hour),
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UNITMON_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("UNITMON_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("UNITMON_INDEX_FILE"); v != "" {
		cfg.Server.IndexFile = v
	}
	if v := os.Getenv("UNITMON_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("UNITMON_DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("UNITMON_SERVICES_FILE"); v != "" {
		cfg.Lists.ServicesFile = v
	}
	if v := os.Getenv("UNITMON_MONITORS_FILE"); v != "" {
		cfg.Lists.MonitorsFile = v
	}
	if v := os.Getenv("UNITMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Alerts.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.TelegramChatID = v
	}
	if v := os.Getenv("UNITMON_PEER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Peer.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("UNITMON_LOCK_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LockWait = Duration(d)
		}
	}
	if v := os.Getenv("UNITMON_LOCK_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.LockStale = Duration(d)
		}
	}
}

// ReadList loads a flat text list file: one entry per line, blank lines
// and #-comments skipped. A missing file yields an empty list, which is
// a valid configuration (no watched units / no peers), not an error.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open list %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read list %s: %w", path, err)
	}
	return out, nil
}
