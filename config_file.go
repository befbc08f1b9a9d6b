package extend

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// fileConfig is the TOML layout read by LoadConfig. Durations are strings
// such as "5s".
type fileConfig struct {
	Addresses        []string `toml:"addresses"`
	ClusterName      string   `toml:"cluster_name"`
	ServiceName      string   `toml:"service_name"`
	Identity         string   `toml:"identity"`
	RequestTimeout   string   `toml:"request_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	MaxFrameSize     int      `toml:"max_frame_size"`
	DisableRedirect  bool     `toml:"disable_redirect"`

	Pool struct {
		MaxSize             int32  `toml:"max_size"`
		MaxConnLifetime     string `toml:"max_conn_lifetime"`
		MaxConnIdleTime     string `toml:"max_conn_idle_time"`
		HealthCheckInterval string `toml:"health_check_interval"`
		PingTimeout         string `toml:"ping_timeout"`
		DialTimeout         string `toml:"dial_timeout"`
	} `toml:"pool"`

	CircuitBreaker struct {
		Disabled    bool   `toml:"disabled"`
		MaxRequests uint32 `toml:"max_requests"`
		Interval    string `toml:"interval"`
		Timeout     string `toml:"timeout"`
	} `toml:"circuit_breaker"`
}

// LoadConfig reads a client configuration file. It returns the Config and
// the proxy addresses listed in it. Settings absent from the file keep
// their defaults.
//
//	addresses = ["10.0.0.1:9099", "10.0.0.2:9099"]
//	cluster_name = "prod"
//	request_timeout = "10s"
//
//	[pool]
//	max_size = 8
//	health_check_interval = "30s"
//
//	[circuit_breaker]
//	timeout = "20s"
func LoadConfig(path string) (Config, []string, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, nil, errors.Wrap(err, "extend: load config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, nil, errors.Errorf("extend: unknown config key %q", undecoded[0].String())
	}

	var cfg Config
	addrs := normalizeAddresses(raw.Addresses)
	if len(addrs) == 0 {
		return Config{}, nil, errors.Wrap(ErrNoAddresses, "extend: load config")
	}

	cfg.Identity = strings.TrimSpace(raw.Identity)
	cfg.Messaging.ClusterName = strings.TrimSpace(raw.ClusterName)
	cfg.Messaging.ServiceName = strings.TrimSpace(raw.ServiceName)
	cfg.Messaging.DisableRedirect = raw.DisableRedirect

	if raw.MaxFrameSize < 0 {
		return Config{}, nil, errors.Errorf("extend: invalid max_frame_size %d", raw.MaxFrameSize)
	}
	cfg.Messaging.MaxFrameSize = raw.MaxFrameSize

	if raw.Pool.MaxSize < 0 {
		return Config{}, nil, errors.Errorf("extend: invalid pool.max_size %d", raw.Pool.MaxSize)
	}
	cfg.MaxSize = raw.Pool.MaxSize

	var dialTimeout, cbInterval, cbTimeout time.Duration
	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.Messaging.RequestTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Messaging.HandshakeTimeout},
		{"pool.max_conn_lifetime", raw.Pool.MaxConnLifetime, &cfg.MaxConnLifetime},
		{"pool.max_conn_idle_time", raw.Pool.MaxConnIdleTime, &cfg.MaxConnIdleTime},
		{"pool.health_check_interval", raw.Pool.HealthCheckInterval, &cfg.HealthCheckInterval},
		{"pool.ping_timeout", raw.Pool.PingTimeout, &cfg.PingTimeout},
		{"pool.dial_timeout", raw.Pool.DialTimeout, &dialTimeout},
		{"circuit_breaker.interval", raw.CircuitBreaker.Interval, &cbInterval},
		{"circuit_breaker.timeout", raw.CircuitBreaker.Timeout, &cbTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return Config{}, nil, errors.Wrapf(err, "extend: parse %s", d.key)
		}
		if v < 0 && d.key != "request_timeout" {
			return Config{}, nil, errors.Errorf("extend: negative %s", d.key)
		}
		*d.dst = v
	}

	if dialTimeout > 0 {
		cfg.Dialer = newDialer(dialTimeout)
	}

	cb := raw.CircuitBreaker
	switch {
	case cb.Disabled:
		cfg.DisableCircuitBreaker = true
	case meta.IsDefined("circuit_breaker"):
		maxRequests := cb.MaxRequests
		if maxRequests == 0 {
			maxRequests = defaultBreakerMaxRequests
		}
		if cbTimeout == 0 {
			cbTimeout = defaultBreakerTimeout
		}
		cfg.NewCircuitBreaker = NewCircuitBreakerConfig(maxRequests, cbInterval, cbTimeout)
	}

	return cfg, addrs, nil
}

func normalizeAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, addr := range in {
		v := strings.TrimSpace(addr)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
