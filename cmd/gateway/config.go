package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

// CLI reúne flags e variáveis de ambiente do gateway. Um .env no diretório
// atual é carregado antes (godotenv) e nunca sobrescreve o ambiente real.
type CLI struct {
	ListenAddr  string `name:"listen-addr" env:"LISTEN_ADDR" default:":8080" help:"Address to listen on."`
	UpstreamURL string `name:"upstream-url" env:"UPSTREAM_URL" required:"" help:"Upstream base URL to proxy to."`

	RateEnabled     bool          `name:"rate-enabled" env:"RATE_ENABLED" default:"true" negatable:"" help:"Enable rate limiting."`
	RateGlobal      bool          `name:"rate-global" env:"RATE_GLOBAL" default:"true" negatable:"" help:"Limit every route, not only the ones in the routes file."`
	RateMax         int64         `name:"rate-max" env:"RATE_MAX" default:"1000" help:"Requests allowed per key and window."`
	RateWindow      time.Duration `name:"rate-window" env:"RATE_WINDOW" default:"1m" help:"Window length."`
	RateBan         int           `name:"rate-ban" env:"RATE_BAN" default:"0" help:"Denied requests tolerated before banning a key (0 disables)."`
	RateAllowList   []string      `name:"rate-allow-list" env:"RATE_ALLOW_LIST" help:"Keys that are never limited."`
	RateSkipOnError bool          `name:"rate-skip-on-error" env:"RATE_SKIP_ON_ERROR" help:"Allow requests when the store fails."`
	RateCache       int           `name:"rate-cache" env:"RATE_CACHE" default:"5000" help:"Max keys kept per scope by the memory store."`
	RateRoutesFile  string        `name:"rate-routes-file" env:"RATE_ROUTES_FILE" help:"YAML file with per-route overrides."`
	RateKeyHeader   string        `name:"rate-key-header" env:"RATE_KEY_HEADER" help:"Header used as key before the client IP."`
	TrustXFF        bool          `name:"trust-xff" env:"TRUST_XFF" help:"Use the first X-Forwarded-For address as key."`
	AddHeaders      bool          `name:"add-headers" env:"ADD_RATELIMIT_HEADERS" help:"Send X-RateLimit-* headers."`
	DraftHeaders    bool          `name:"draft-headers" env:"RATE_DRAFT_HEADERS" help:"Use RateLimit-* header names."`

	RateStore     string        `name:"rate-store" env:"RATE_STORE" default:"memory" enum:"memory,redis" help:"Counter backend (memory, redis)."`
	RedisAddr     string        `name:"redis-addr" env:"REDIS_ADDR" help:"Redis address (comma separated for cluster)."`
	RedisPassword string        `name:"redis-password" env:"REDIS_PASSWORD" help:"Redis password."`
	RedisDB       int           `name:"redis-db" env:"REDIS_DB" default:"0" help:"Redis database."`
	RedisPrefix   string        `name:"redis-prefix" env:"REDIS_PREFIX" default:"ratelimit" help:"Prefix for counter and ban keys."`
	RedisTimeout  time.Duration `name:"redis-timeout" env:"REDIS_TIMEOUT" default:"250ms" help:"Timeout for each store round trip."`

	RateStats          string        `name:"rate-stats" env:"RATE_STATS" default:"none" enum:"none,memory,redis,prometheus" help:"Decision stats sink."`
	RateStatsPrefix    string        `name:"rate-stats-prefix" env:"RATE_STATS_PREFIX" default:"ratelimit:stats" help:"Redis stats key prefix."`
	RateStatsTTL       time.Duration `name:"rate-stats-ttl" env:"RATE_STATS_TTL" default:"24h" help:"TTL of Redis stats buckets."`
	RateStatsBucket    string        `name:"rate-stats-bucket" env:"RATE_STATS_BUCKET" default:"minute" enum:"minute,none" help:"Redis stats time bucket."`
	RateStatsTrackKeys bool          `name:"rate-stats-track-keys" env:"RATE_STATS_TRACK_KEYS" help:"Keep stats per key (watch cardinality)."`
	MetricsPath        string        `name:"metrics-path" env:"METRICS_PATH" default:"/metrics" help:"Prometheus endpoint path."`

	LogLevel  string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat string `name:"log-format" env:"LOG_FORMAT" default:"text" enum:"text,json" help:"Log format."`
}

// Validate roda depois do parse (kong chama automaticamente).
func (c *CLI) Validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if (c.RateStore == "redis" || c.RateStats == "redis") && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("REDIS_ADDR is required when RATE_STORE or RATE_STATS is redis")
	}
	if c.RateCache <= 0 {
		return errors.New("RATE_CACHE must be > 0")
	}
	return nil
}

// GlobalPolicy monta e valida a policy global.
func (c *CLI) GlobalPolicy() (domain.Policy, error) {
	p := domain.Policy{
		Max:         domain.Value(c.RateMax),
		TimeWindow:  c.RateWindow,
		SkipOnError: c.RateSkipOnError,
		Global:      c.RateGlobal,
	}
	if c.RateBan != 0 {
		p.BanThreshold = domain.Ptr(c.RateBan)
	}
	if len(c.RateAllowList) > 0 {
		p.AllowList = domain.AllowKeys(c.RateAllowList...)
	}
	if err := application.ValidatePolicy(p); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

func (c *CLI) Logger() *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.LogLevel))

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type routesFile struct {
	Routes []routeConfig `yaml:"routes"`
}

// routeConfig é uma entrada do arquivo de rotas. Campos ausentes herdam da
// policy global.
type routeConfig struct {
	Method      string         `yaml:"method"`
	Path        string         `yaml:"path"`
	Max         *int64         `yaml:"max"`
	TimeWindow  *time.Duration `yaml:"time_window"`
	Ban         *int           `yaml:"ban"`
	AllowList   []string       `yaml:"allow_list"`
	SkipOnError *bool          `yaml:"skip_on_error"`
	Disabled    bool           `yaml:"disabled"`
}

func (rc routeConfig) Pattern() string {
	if rc.Method == "" {
		return rc.Path
	}
	return strings.ToUpper(rc.Method) + " " + rc.Path
}

func (rc routeConfig) Override() *domain.PolicyOverride {
	o := &domain.PolicyOverride{
		TimeWindow:   rc.TimeWindow,
		BanThreshold: rc.Ban,
		SkipOnError:  rc.SkipOnError,
		Disabled:     rc.Disabled,
	}
	if rc.Max != nil {
		o.Max = domain.Value(*rc.Max)
	}
	if len(rc.AllowList) > 0 {
		o.AllowList = domain.AllowKeys(rc.AllowList...)
	}
	return o
}

func loadRoutes(path string) ([]routeConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var f routesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Routes))
	for i, rc := range f.Routes {
		if !strings.HasPrefix(rc.Path, "/") {
			return nil, fmt.Errorf("routes[%d]: path must start with /, got %q", i, rc.Path)
		}
		if seen[rc.Pattern()] {
			return nil, fmt.Errorf("routes[%d]: duplicate route %q", i, rc.Pattern())
		}
		seen[rc.Pattern()] = true
	}
	return f.Routes, nil
}
