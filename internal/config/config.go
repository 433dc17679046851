package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const (
	envListenAddr      = "YACALL_LISTEN_ADDR"
	envStaticDir       = "YACALL_STATIC_DIR"
	envAllowedOrigins  = "YACALL_ALLOWED_ORIGINS"
	envShutdownTimeout = "YACALL_SHUTDOWN_TIMEOUT"
	envNodeID          = "YACALL_NODE_ID"
	envRedisAddr       = "YACALL_REDIS_ADDR"
	envRedisPassword   = "YACALL_REDIS_PASSWORD"
	envRedisDB         = "YACALL_REDIS_DB"
	envNATSURL         = "YACALL_NATS_URL"
	envPresenceTTL     = "YACALL_PRESENCE_TTL"

	envServerURL   = "YACALL_SERVER_URL"
	envUserID      = "YACALL_USER"
	envSTUNServer  = "YACALL_STUN_SERVER"
	envRingTimeout = "YACALL_RING_TIMEOUT"
	envCameras     = "YACALL_CAMERAS"

	envLogLevel  = "YACALL_LOG_LEVEL"
	envLogFormat = "YACALL_LOG_FORMAT"
)

// Defaults
const (
	DefaultListenAddr      = ":8080"
	DefaultStaticDir       = "./static"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultPresenceTTL     = 60 * time.Second

	DefaultServerURL  = "ws://localhost:8080/ws"
	DefaultSTUNServer = "stun:stun.l.google.com:19302"
	DefaultCameras    = "user,environment"

	DefaultLogFormat = "console"
)

var ErrInvalid = errors.New("invalid configuration")

// LookupFunc reads one environment variable. os.LookupEnv is used when nil.
type LookupFunc func(key string) (string, bool)

type Logging struct {
	Level  string
	Format string
}

// Server is the relay's configuration.
type Server struct {
	ListenAddr      string
	StaticDir       string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	Logging         Logging

	// Cluster mode is on when both Redis and NATS are configured.
	NodeID        domain.NodeID
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	PresenceTTL   time.Duration
}

func (s *Server) Clustered() bool {
	return s.RedisAddr != "" && s.NATSURL != ""
}

// ServerOptions carries CLI flag values. Empty fields are unset.
type ServerOptions struct {
	ListenAddr      string
	StaticDir       string
	AllowedOrigins  string
	ShutdownTimeout string
	LogLevel        string
	LogFormat       string
	NodeID          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         string
	NATSURL         string
	PresenceTTL     string
}

// LoadServer resolves every setting as CLI flag > environment > default.
func LoadServer(opts ServerOptions, lookup LookupFunc) (*Server, error) {
	r := resolver{lookup: lookup}
	cfg := &Server{
		ListenAddr:    r.str(opts.ListenAddr, envListenAddr, DefaultListenAddr),
		StaticDir:     r.str(opts.StaticDir, envStaticDir, DefaultStaticDir),
		RedisAddr:     r.str(opts.RedisAddr, envRedisAddr, ""),
		RedisPassword: r.str(opts.RedisPassword, envRedisPassword, ""),
		NATSURL:       r.str(opts.NATSURL, envNATSURL, ""),
		NodeID:        domain.NodeID(r.str(opts.NodeID, envNodeID, "")),
		Logging:       r.logging(opts.LogLevel, opts.LogFormat, "info"),
	}
	cfg.AllowedOrigins = splitList(r.str(opts.AllowedOrigins, envAllowedOrigins, ""))

	var err error
	if cfg.ShutdownTimeout, err = r.duration(opts.ShutdownTimeout, envShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.PresenceTTL, err = r.duration(opts.PresenceTTL, envPresenceTTL, DefaultPresenceTTL); err != nil {
		return nil, err
	}
	if cfg.PresenceTTL < 2*time.Second {
		return nil, fmt.Errorf("%w: presence TTL %s is too short", ErrInvalid, cfg.PresenceTTL)
	}
	db := r.str(opts.RedisDB, envRedisDB, "0")
	if cfg.RedisDB, err = strconv.Atoi(db); err != nil || cfg.RedisDB < 0 {
		return nil, fmt.Errorf("%w: redis db %q", ErrInvalid, db)
	}

	if (cfg.RedisAddr == "") != (cfg.NATSURL == "") {
		return nil, fmt.Errorf("%w: cluster mode needs both a Redis address and a NATS URL", ErrInvalid)
	}
	if cfg.Clustered() && cfg.NodeID == "" {
		cfg.NodeID = domain.NewNodeID()
	}
	if err := validateLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Client is the terminal phone's configuration.
type Client struct {
	ServerURL   string
	UserID      domain.UserID
	STUNServer  string
	RingTimeout time.Duration
	Cameras     []domain.Facing
	Logging     Logging
}

type ClientOptions struct {
	ServerURL   string
	UserID      string
	STUNServer  string
	RingTimeout string
	Cameras     string
	LogLevel    string
	LogFormat   string
}

// LoadClient resolves every setting as CLI flag > environment > default.
func LoadClient(opts ClientOptions, lookup LookupFunc) (*Client, error) {
	r := resolver{lookup: lookup}
	cfg := &Client{
		ServerURL:  r.str(opts.ServerURL, envServerURL, DefaultServerURL),
		UserID:     domain.UserID(strings.TrimSpace(r.str(opts.UserID, envUserID, ""))),
		STUNServer: r.str(opts.STUNServer, envSTUNServer, DefaultSTUNServer),
		Logging:    r.logging(opts.LogLevel, opts.LogFormat, "warn"),
	}
	if cfg.UserID.IsZero() {
		return nil, fmt.Errorf("%w: a user id is required (--user or %s)", ErrInvalid, envUserID)
	}
	if !strings.HasPrefix(cfg.ServerURL, "ws://") && !strings.HasPrefix(cfg.ServerURL, "wss://") {
		return nil, fmt.Errorf("%w: server URL %q must use ws:// or wss://", ErrInvalid, cfg.ServerURL)
	}

	var err error
	if cfg.RingTimeout, err = r.duration(opts.RingTimeout, envRingTimeout, 0); err != nil {
		return nil, err
	}
	for _, c := range splitList(r.str(opts.Cameras, envCameras, DefaultCameras)) {
		f := domain.Facing(c)
		if f != domain.FacingUser && f != domain.FacingEnvironment {
			return nil, fmt.Errorf("%w: unknown camera facing %q", ErrInvalid, c)
		}
		cfg.Cameras = append(cfg.Cameras, f)
	}
	if err := validateLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

type resolver struct {
	lookup LookupFunc
}

func (r resolver) env(key string) string {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return strings.TrimSpace(v)
}

func (r resolver) str(flag, key, def string) string {
	if flag != "" {
		return flag
	}
	if v := r.env(key); v != "" {
		return v
	}
	return def
}

func (r resolver) duration(flag, key string, def time.Duration) (time.Duration, error) {
	raw := r.str(flag, key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, raw)
	}
	return d, nil
}

func (r resolver) logging(level, format, defLevel string) Logging {
	return Logging{
		Level:  strings.ToLower(r.str(level, envLogLevel, defLevel)),
		Format: strings.ToLower(r.str(format, envLogFormat, DefaultLogFormat)),
	}
}

func validateLogging(l Logging) error {
	if l.Format != "console" && l.Format != "json" {
		return fmt.Errorf("%w: log format %q (want console or json)", ErrInvalid, l.Format)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
