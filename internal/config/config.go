// Package config loads service settings from an optional YAML file and
// AYLF_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
		MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"http"`
	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`
	Database struct {
		URL             string        `mapstructure:"url"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
		ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	} `mapstructure:"database"`
	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`
	Auth struct {
		Issuer     string        `mapstructure:"issuer"`
		Audience   string        `mapstructure:"audience"`
		Secret     string        `mapstructure:"secret"`
		CookieName string        `mapstructure:"cookie_name"`
		Leeway     time.Duration `mapstructure:"leeway"`
	} `mapstructure:"auth"`
	Cron struct {
		Secret     string `mapstructure:"secret"`
		SecretHash string `mapstructure:"secret_hash"`
	} `mapstructure:"cron"`
	Idempotency struct {
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"idempotency"`
	Invitations struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"invitations"`
	RateLimit struct {
		Burst     int `mapstructure:"burst"`
		PerSecond int `mapstructure:"per_second"`
	} `mapstructure:"rate_limit"`
	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"cors"`
	Telemetry struct {
		ServiceName string        `mapstructure:"service_name"`
		Endpoint    string        `mapstructure:"endpoint"`
		Headers     string        `mapstructure:"headers"`
		Insecure    bool          `mapstructure:"insecure"`
		Required    bool          `mapstructure:"required"`
		Sampler     string        `mapstructure:"sampler"`
		SamplerArg  string        `mapstructure:"sampler_arg"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"telemetry"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("auth.cookie_name", "aylf_session")
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("idempotency.retention", 7*24*time.Hour)
	v.SetDefault("invitations.ttl", 14*24*time.Hour)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.per_second", 20)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("telemetry.service_name", "aylf-api")
	v.SetDefault("telemetry.sampler", "parentbased_traceidratio")
	v.SetDefault("telemetry.sampler_arg", "1")
	v.SetDefault("telemetry.timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
}

// Load reads path (if non-empty, else ./config.yaml when present) and
// overlays the environment, e.g. AYLF_DATABASE_URL or AYLF_AUTH_SECRET.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("AYLF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"database.url", "redis.url", "auth.issuer", "auth.audience", "auth.secret", "cron.secret", "cron.secret_hash", "telemetry.endpoint", "telemetry.headers", "telemetry.insecure", "telemetry.required"} {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Validate reports the settings the API cannot start without.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Database.URL) == "" {
		problems = append(problems, "database.url is required")
	}
	if len(c.Auth.Secret) < 16 {
		problems = append(problems, "auth.secret must be at least 16 bytes")
	}
	if c.Cron.Secret == "" && c.Cron.SecretHash == "" {
		problems = append(problems, "cron.secret or cron.secret_hash is required")
	}
	if c.Idempotency.Retention < time.Hour {
		problems = append(problems, "idempotency.retention must be at least 1h")
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		problems = append(problems, "rate_limit.burst and rate_limit.per_second must be positive")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
