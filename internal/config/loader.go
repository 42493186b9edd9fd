package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting
// env > file > default precedence.
type Loader struct {
	envPrefix string
	path      string
}

// NewLoader prepares a config hydrator for the given document path. The env
// prefix allows CI pipelines to override individual keys without editing
// the file.
func NewLoader(envPrefix, path string) *Loader {
	return &Loader{envPrefix: envPrefix, path: path}
}

// Path returns the configured document path, used by the watcher.
func (l *Loader) Path() string { return l.path }

// Load assembles the effective snapshot: defaults first, then the config
// document, then environment overrides, then validation.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.path != "" {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(l.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", l.path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", l.path, err)
		}
		if err := k.Load(file.Provider(l.path), parserFor(l.path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__MAX_REQUEST_SIZE -> server.maxrequestsize).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalEnvKeys[strings.ReplaceAll(lower, "_", "")]; ok {
				return mapped
			}
			return strings.ReplaceAll(lower, "_", "")
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// canonicalEnvKeys maps flattened env keys back onto the camelCase koanf
// paths that single-underscore collapsing would otherwise mangle.
var canonicalEnvKeys = map[string]string{
	"server.maxrequestsize":         "server.maxRequestSize",
	"server.realipheader":           "server.realIPHeader",
	"telemetry.servicename":         "telemetry.serviceName",
	"telemetry.serviceversion":      "telemetry.serviceVersion",
	"telemetry.samplingrate":        "telemetry.samplingRate",
	"telemetry.loglevel":            "telemetry.logLevel",
	"telemetry.logformat":           "telemetry.logFormat",
	"telemetry.timeoutseconds":      "telemetry.timeoutSeconds",
	"telemetry.exportbatchsize":     "telemetry.exportBatchSize",
	"telemetry.exporttimeoutmillis": "telemetry.exportTimeoutMillis",
	"state.ttlseconds":              "state.ttlSeconds",
	"state.valkey.tls.cafile":       "state.valkey.tls.caFile",
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return kyaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":           cfg.Server.Host,
			"port":           cfg.Server.Port,
			"workers":        cfg.Server.Workers,
			"maxRequestSize": cfg.Server.MaxRequestSize,
			"realIPHeader":   cfg.Server.RealIPHeader,
		},
		"telemetry": map[string]any{
			"enabled":             cfg.Telemetry.Enabled,
			"serviceName":         cfg.Telemetry.ServiceName,
			"serviceVersion":      cfg.Telemetry.ServiceVersion,
			"endpoint":            cfg.Telemetry.Endpoint,
			"protocol":            cfg.Telemetry.Protocol,
			"samplingRate":        cfg.Telemetry.SamplingRate,
			"logLevel":            cfg.Telemetry.LogLevel,
			"logFormat":           cfg.Telemetry.LogFormat,
			"timeoutSeconds":      cfg.Telemetry.TimeoutSeconds,
			"exportBatchSize":     cfg.Telemetry.ExportBatchSize,
			"exportTimeoutMillis": cfg.Telemetry.ExportTimeoutMillis,
		},
		"state": map[string]any{
			"backend":    cfg.State.Backend,
			"ttlSeconds": cfg.State.TTLSeconds,
			"valkey": map[string]any{
				"address":  cfg.State.Valkey.Address,
				"username": cfg.State.Valkey.Username,
				"password": cfg.State.Valkey.Password,
				"db":       cfg.State.Valkey.DB,
				"tls": map[string]any{
					"enabled": cfg.State.Valkey.TLS.Enabled,
					"caFile":  cfg.State.Valkey.TLS.CAFile,
				},
			},
		},
	}
}
