package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"or3sync/internal/domain/gc"
	syncdomain "or3sync/internal/domain/sync"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env       string
	Server    Server
	Storage   Storage
	Sync      syncdomain.EngineConfig
	GC        gc.Config
	RateLimit RateLimit
	Admin     Admin
	Session   Session
}

type Server struct {
	RunAddress     string
	RequestTimeout time.Duration
	// MaxPushBodyBytes overrides the push body cap derived from the
	// sync batch and payload limits when set.
	MaxPushBodyBytes int64
}

type Storage struct {
	Backend     string
	DatabaseURI string
}

type RateLimit struct {
	PerSecond float64
	Burst     int
	IdleTTL   time.Duration
}

type Admin struct {
	Token string
}

type Session struct {
	TTL time.Duration
}

func setDefaults(v *viper.Viper) {
	def := syncdomain.DefaultEngineConfig()
	gcDef := gc.DefaultConfig()

	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_push_body_bytes", 0)
	v.SetDefault("storage_backend", "memory")
	v.SetDefault("database_uri", "")

	v.SetDefault("sync_allowed_tables", strings.Join(def.AllowedTables, ","))
	v.SetDefault("sync_max_batch", def.MaxBatchSize)
	v.SetDefault("sync_max_payload_bytes", def.MaxPayloadBytes)
	v.SetDefault("sync_default_pull_limit", def.DefaultPullLimit)
	v.SetDefault("sync_max_pull_limit", def.MaxPullLimit)
	v.SetDefault("sync_max_clock_drift", def.MaxClockDrift)

	v.SetDefault("gc_interval", gcDef.Interval)
	v.SetDefault("gc_retention", gcDef.Retention)
	v.SetDefault("gc_batch_size", gcDef.BatchSize)
	v.SetDefault("gc_max_batch_size", def.MaxGCBatchSize)
	v.SetDefault("gc_max_continuations", def.MaxGCContinuations)
	v.SetDefault("gc_max_workspaces", gcDef.MaxWorkspaces)
	v.SetDefault("gc_concurrency", gcDef.Concurrency)
	v.SetDefault("gc_active_horizon", def.ActiveDeviceHorizon)
	v.SetDefault("gc_cursor_reap_horizon", gcDef.CursorReapHorizon)
	v.SetDefault("gc_cursor_reap_batch", gcDef.CursorReapBatch)
	v.SetDefault("gc_session_purge_batch", gcDef.SessionPurgeBatch)

	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 200)
	v.SetDefault("rate_limit_idle_ttl", 10*time.Minute)
	v.SetDefault("rate_limit_cleanup_batch", gcDef.LimiterCleanupBatch)

	v.SetDefault("admin_token", "")
	v.SetDefault("session_ttl", 24*time.Hour)
}

// MustLoad reads the optional .env file and the process environment.
func MustLoad() *Config {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load(viper.New())
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load builds the configuration from v after applying defaults and
// environment lookups.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Env: v.GetString("app_env"),
		Server: Server{
			RunAddress:       v.GetString("run_address"),
			RequestTimeout:   v.GetDuration("request_timeout"),
			MaxPushBodyBytes: v.GetInt64("max_push_body_bytes"),
		},
		Storage: Storage{
			Backend:     v.GetString("storage_backend"),
			DatabaseURI: v.GetString("database_uri"),
		},
		Sync: syncdomain.EngineConfig{
			AllowedTables:       splitList(v.GetString("sync_allowed_tables")),
			MaxBatchSize:        v.GetInt("sync_max_batch"),
			MaxPayloadBytes:     v.GetInt("sync_max_payload_bytes"),
			DefaultPullLimit:    v.GetInt("sync_default_pull_limit"),
			MaxPullLimit:        v.GetInt("sync_max_pull_limit"),
			MaxClockDrift:       v.GetDuration("sync_max_clock_drift"),
			ActiveDeviceHorizon: v.GetDuration("gc_active_horizon"),
			MaxGCBatchSize:      v.GetInt("gc_max_batch_size"),
			MaxGCContinuations:  v.GetInt("gc_max_continuations"),
		},
		GC: gc.Config{
			Interval:            v.GetDuration("gc_interval"),
			Retention:           v.GetDuration("gc_retention"),
			BatchSize:           v.GetInt("gc_batch_size"),
			MaxWorkspaces:       v.GetInt("gc_max_workspaces"),
			Concurrency:         v.GetInt("gc_concurrency"),
			CursorReapHorizon:   v.GetDuration("gc_cursor_reap_horizon"),
			CursorReapBatch:     v.GetInt("gc_cursor_reap_batch"),
			SessionPurgeBatch:   v.GetInt("gc_session_purge_batch"),
			LimiterCleanupBatch: v.GetInt("rate_limit_cleanup_batch"),
		},
		RateLimit: RateLimit{
			PerSecond: v.GetFloat64("rate_limit_rps"),
			Burst:     v.GetInt("rate_limit_burst"),
			IdleTTL:   v.GetDuration("rate_limit_idle_ttl"),
		},
		Admin:   Admin{Token: v.GetString("admin_token")},
		Session: Session{TTL: v.GetDuration("session_ttl")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.DatabaseURI == "" {
			return fmt.Errorf("DATABASE_URI is required for the postgres backend")
		}
	case "":
		return fmt.Errorf("STORAGE_BACKEND must be set")
	}
	if c.Sync.MaxGCContinuations < 1 {
		return fmt.Errorf("GC_MAX_CONTINUATIONS must be at least 1")
	}
	if c.GC.MaxWorkspaces < 1 {
		return fmt.Errorf("GC_MAX_WORKSPACES must be at least 1")
	}
	if c.Sync.DefaultPullLimit > c.Sync.MaxPullLimit {
		return fmt.Errorf("SYNC_DEFAULT_PULL_LIMIT %d exceeds SYNC_MAX_PULL_LIMIT %d",
			c.Sync.DefaultPullLimit, c.Sync.MaxPullLimit)
	}
	if need := c.Sync.MaxPushBodyBytes(); c.PushBodyLimit() < need {
		return fmt.Errorf("MAX_PUSH_BODY_BYTES %d cannot hold a full batch of %d ops at %d bytes (needs %d)",
			c.PushBodyLimit(), c.Sync.MaxBatchSize, c.Sync.MaxPayloadBytes, need)
	}
	// A device whose cursor still holds back GC must never be reaped.
	if c.GC.CursorReapHorizon < c.Sync.ActiveDeviceHorizon {
		return fmt.Errorf("GC_CURSOR_REAP_HORIZON %s is shorter than GC_ACTIVE_HORIZON %s",
			c.GC.CursorReapHorizon, c.Sync.ActiveDeviceHorizon)
	}
	return nil
}

// PushBodyLimit is the request body cap for push.
func (c *Config) PushBodyLimit() int64 {
	if c.Server.MaxPushBodyBytes > 0 {
		return c.Server.MaxPushBodyBytes
	}
	return c.Sync.MaxPushBodyBytes()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
