package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyTLSConfig mirrors the config TLS block so this package does not
// depend on internal/config.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig carries connection settings for the shared counter backend.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
	TTL      time.Duration
}

type valkeyStore struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkey connects to a valkey/redis server and returns a counter store
// whose TTL is enforced server-side. Multiple mock instances pointed at the
// same server share counters.
func NewValkey(cfg ValkeyConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("state: valkey address required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("state: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("state: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("state: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("state: valkey ping: %w", err)
	}

	return &valkeyStore{client: client, ttl: ttl}, nil
}

func (s *valkeyStore) Increment(ctx context.Context, key string) (uint64, error) {
	resp := s.client.Do(ctx, s.client.B().Incr().Key(key).Build())
	count, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("state: valkey incr: %w", err)
	}
	if err := s.touch(ctx, key); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *valkeyStore) Get(ctx context.Context, key string) (uint64, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("state: valkey get: %w", err)
	}
	count, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("state: valkey get value: %w", err)
	}
	if err := s.touch(ctx, key); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// Sweep is a no-op: expiry is enforced server-side via PEXPIRE.
func (s *valkeyStore) Sweep(context.Context) error {
	return nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func (s *valkeyStore) touch(ctx context.Context, key string) error {
	cmd := s.client.B().Pexpire().Key(key).Milliseconds(s.ttl.Milliseconds()).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("state: valkey pexpire: %w", err)
	}
	return nil
}
