package gateway

import (
	"errors"
	"time"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultInitTimeout  = 10 * time.Second
	closeGrace          = 1 * time.Second

	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	maxPingFailures         = 3

	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second

	defaultMaxSubscriptions = 64

	// Max bytes per frame read.
	maxFrameBytes = 64 << 10

	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"

	defaultShutdownGrace = 30 * time.Second
)

// ErrConfig reports an unusable gateway configuration.
var ErrConfig = errors.New("gateway: invalid config")

// Config holds transport limits and the origin policy.
type Config struct {
	// DevInsecure disables the library's own origin check. Development only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	// CookieName is read from the upgrade request before connection params.
	CookieName string

	WriteTimeout time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long.
	// Zero relies on heartbeats alone.
	ReadIdleTimeout time.Duration
	InitTimeout     time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	MaxSubscriptions int

	ShutdownGrace time.Duration
}

// DefaultConfig returns secure defaults: Origin required, localhost only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   defaultOriginRequired,
		AllowedOrigins:   splitCSV(defaultAllowedOrigins),
		CookieName:       "token",
		WriteTimeout:     defaultWriteTimeout,
		InitTimeout:      defaultInitTimeout,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   defaultHeartbeatEvery,
		HeartbeatTimeout: defaultHeartbeatTimeout,
		RateEvents:       defaultRateEvents,
		RateWindow:       defaultRateWindow,
		MaxSubscriptions: defaultMaxSubscriptions,
		ShutdownGrace:    defaultShutdownGrace,
	}
}

// LoadConfigFromEnv reads CODETALK_WS_* variables over DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	d := DefaultConfig()
	cfg := Config{
		DevInsecure:      envBool("CODETALK_WS_DEV_INSECURE", false),
		OriginRequired:   envBool("CODETALK_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins:   splitCSV(envString("CODETALK_WS_ALLOWED_ORIGINS", defaultAllowedOrigins)),
		CookieName:       envString("CODETALK_WS_COOKIE_NAME", d.CookieName),
		WriteTimeout:     envDuration("CODETALK_WS_WRITE_TIMEOUT", d.WriteTimeout),
		ReadIdleTimeout:  envDuration("CODETALK_WS_READ_IDLE_TIMEOUT", 0),
		InitTimeout:      envDuration("CODETALK_WS_INIT_TIMEOUT", d.InitTimeout),
		SendQueueSize:    envInt("CODETALK_WS_SEND_QUEUE", d.SendQueueSize),
		HeartbeatEvery:   envDuration("CODETALK_WS_HEARTBEAT_INTERVAL", d.HeartbeatEvery),
		HeartbeatTimeout: envDuration("CODETALK_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),
		RateEvents:       envInt("CODETALK_WS_RATE_EVENTS", d.RateEvents),
		RateWindow:       envDuration("CODETALK_WS_RATE_WINDOW", d.RateWindow),
		MaxSubscriptions: envInt("CODETALK_WS_MAX_SUBSCRIPTIONS", d.MaxSubscriptions),
		ShutdownGrace:    envDuration("CODETALK_SHUTDOWN_TIMEOUT", d.ShutdownGrace),
	}
	if cfg.OriginRequired && len(cfg.AllowedOrigins) == 0 {
		return Config{}, errors.Join(ErrConfig, errors.New("origin required but CODETALK_WS_ALLOWED_ORIGINS is empty"))
	}
	return cfg.normalize(), nil
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = d.CookieName
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = d.InitTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = d.MaxSubscriptions
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}
