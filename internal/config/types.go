package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds every option the server consumes: listener knobs, telemetry
// wiring, the optional shared-state backend, and the mock endpoint catalog.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	State     StateConfig     `koanf:"state"`
	Endpoints []Endpoint      `koanf:"endpoints"`
}

// ServerConfig collects the bootstrap knobs owned by the HTTP lifecycle.
type ServerConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	Workers        int    `koanf:"workers"`
	MaxRequestSize int64  `koanf:"maxRequestSize"`
	RealIPHeader   string `koanf:"realIPHeader"`
}

// TelemetryConfig expresses the OpenTelemetry export surface plus the
// logging policy that rides along with it.
type TelemetryConfig struct {
	Enabled             bool    `koanf:"enabled"`
	ServiceName         string  `koanf:"serviceName"`
	ServiceVersion      string  `koanf:"serviceVersion"`
	Endpoint            string  `koanf:"endpoint"`
	Protocol            string  `koanf:"protocol"`
	SamplingRate        float64 `koanf:"samplingRate"`
	LogLevel            string  `koanf:"logLevel"`
	LogFormat           string  `koanf:"logFormat"`
	TimeoutSeconds      int     `koanf:"timeoutSeconds"`
	ExportBatchSize     int     `koanf:"exportBatchSize"`
	ExportTimeoutMillis int     `koanf:"exportTimeoutMillis"`
}

// StateConfig selects where per-key request counters live. The memory
// backend is private to one process; valkey lets a fleet of mock instances
// share counters.
type StateConfig struct {
	Backend    string       `koanf:"backend"`
	TTLSeconds int          `koanf:"ttlSeconds"`
	Valkey     ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig carries the connection settings for the shared counter store.
type ValkeyConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Endpoint describes one mocked route: a method/path template and the
// ordered candidate responses the rule engine picks from. Immutable after
// load; reloads publish a whole new catalog.
type Endpoint struct {
	Name      string     `koanf:"name"`
	Method    string     `koanf:"method"`
	Path      string     `koanf:"path"`
	Stateful  bool       `koanf:"stateful"`
	StateKey  string     `koanf:"stateKey"`
	Responses []Response `koanf:"responses"`
}

// Response is one candidate answer for an endpoint. A nil Body means the
// response is written without a payload; an empty template still produces
// an empty body.
type Response struct {
	Status      int               `koanf:"status"`
	Delay       string            `koanf:"delay"`
	Body        *string           `koanf:"body"`
	Headers     map[string]string `koanf:"headers"`
	Condition   string            `koanf:"condition"`
	Probability float64           `koanf:"probability"`
	Default     bool              `koanf:"default"`
}

// DefaultConfig mirrors the documented defaults so a minimal YAML document
// still yields a runnable server.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Workers:        4,
			MaxRequestSize: 10 * 1024 * 1024,
		},
		Telemetry: TelemetryConfig{
			Enabled:             true,
			ServiceName:         "molock",
			ServiceVersion:      "0.1.0",
			Endpoint:            "http://localhost:4317",
			Protocol:            "grpc",
			SamplingRate:        1.0,
			LogLevel:            "info",
			LogFormat:           "json",
			TimeoutSeconds:      30,
			ExportBatchSize:     512,
			ExportTimeoutMillis: 30000,
		},
		State: StateConfig{
			Backend:    "memory",
			TTLSeconds: 3600,
		},
	}
}

// Validate enforces the catalog invariants before anything is published to
// the engine. A failure here is fatal at startup and rejected on reload.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server port %d out of range", c.Server.Port))
	}
	if c.Server.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: server workers must be positive, got %d", c.Server.Workers))
	}
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("config: max request size must be positive, got %d", c.Server.MaxRequestSize))
	}

	if err := c.Telemetry.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.State.validate(); err != nil {
		errs = append(errs, err)
	}

	for i := range c.Endpoints {
		if err := c.Endpoints[i].validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t TelemetryConfig) validate() error {
	var errs []error

	if t.ServiceName == "" {
		errs = append(errs, errors.New("config: telemetry service name required"))
	}
	switch strings.ToLower(t.Protocol) {
	case "grpc", "http", "stdout":
	default:
		errs = append(errs, fmt.Errorf("config: telemetry protocol %q not supported", t.Protocol))
	}
	if t.Enabled && strings.ToLower(t.Protocol) != "stdout" {
		u, err := url.Parse(t.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: telemetry endpoint %q must be an absolute http(s) URL", t.Endpoint))
		}
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry sampling rate %v outside [0,1]", t.SamplingRate))
	}
	if t.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: telemetry timeout must be positive, got %d", t.TimeoutSeconds))
	}
	if t.ExportBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("config: telemetry export batch size must be positive, got %d", t.ExportBatchSize))
	}
	if t.ExportTimeoutMillis <= 0 {
		errs = append(errs, fmt.Errorf("config: telemetry export timeout must be positive, got %d", t.ExportTimeoutMillis))
	}

	return errors.Join(errs...)
}

func (s StateConfig) validate() error {
	switch strings.ToLower(s.Backend) {
	case "", "memory":
	case "valkey":
		if s.Valkey.Address == "" {
			return errors.New("config: state backend valkey requires an address")
		}
	default:
		return fmt.Errorf("config: state backend %q not supported", s.Backend)
	}
	if s.TTLSeconds < 0 {
		return fmt.Errorf("config: state ttl must not be negative, got %d", s.TTLSeconds)
	}
	return nil
}

func (e Endpoint) validate() error {
	var errs []error

	if e.Name == "" {
		errs = append(errs, errors.New("config: endpoint name required"))
	}
	label := e.Name
	if label == "" {
		label = e.Path
	}
	if e.Method == "" {
		errs = append(errs, fmt.Errorf("config: endpoint %q method required", label))
	}
	if e.Path == "" || !strings.HasPrefix(e.Path, "/") {
		errs = append(errs, fmt.Errorf("config: endpoint %q path must start with /", label))
	}
	if len(e.Responses) == 0 {
		errs = append(errs, fmt.Errorf("config: endpoint %q needs at least one response", label))
	}

	defaults := 0
	for i, r := range e.Responses {
		if r.Default {
			defaults++
		}
		if r.Status < 100 || r.Status >= 600 {
			errs = append(errs, fmt.Errorf("config: endpoint %q response %d status %d out of range", label, i, r.Status))
		}
		if r.Probability < 0 || r.Probability > 1 {
			errs = append(errs, fmt.Errorf("config: endpoint %q response %d probability %v outside [0,1]", label, i, r.Probability))
		}
		if r.Delay != "" {
			if _, err := ParseDelay(r.Delay); err != nil {
				errs = append(errs, fmt.Errorf("config: endpoint %q response %d: %w", label, i, err))
			}
		}
	}
	if defaults > 1 {
		errs = append(errs, fmt.Errorf("config: endpoint %q has %d default responses, at most one allowed", label, defaults))
	}

	return errors.Join(errs...)
}
