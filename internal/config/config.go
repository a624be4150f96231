// Package config loads service settings from GLG_* environment variables and
// an optional YAML file named by GLG_CONFIG.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"glgapp.org/internal/consistent"
	"glgapp.org/internal/gateway"
)

// Budget is a retry budget for one read class.
type Budget struct {
	Attempts int
	Delay    time.Duration
}

func (b Budget) Policy() consistent.Policy {
	return consistent.Policy{MaxAttempts: b.Attempts, Delay: b.Delay}
}

type Retry struct {
	Contact        Budget
	Read           Budget
	OfferPlan      Budget
	OfferResponses Budget
}

// Policies converts the budgets for the dispatcher.
func (r Retry) Policies() gateway.Policies {
	return gateway.Policies{
		Contact:        r.Contact.Policy(),
		Read:           r.Read.Policy(),
		OfferPlan:      r.OfferPlan.Policy(),
		OfferResponses: r.OfferResponses.Policy(),
	}
}

type Auth struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Video struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration
}

type Tracing struct {
	Endpoint string
	Insecure bool
}

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	WarehouseDSN    string
	WarehouseSchema string
	ProfileDSN      string

	Auth             Auth
	Retry            Retry
	OfferConcurrency int

	RateBurst       int
	RatePerSec      int
	MaxBodyBytes    int64
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	// TrustedProxies lists proxy CIDRs or addresses allowed to set
	// X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies []string

	Redis   Redis
	Video   Video
	Tracing Tracing
}

func defaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.schema", "")
	v.SetDefault("profile.dsn", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.public_key_pem", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("retry.contact.attempts", 5)
	v.SetDefault("retry.contact.delay", "1s")
	v.SetDefault("retry.read.attempts", 5)
	v.SetDefault("retry.read.delay", "500ms")
	v.SetDefault("retry.offer_plan.attempts", 5)
	v.SetDefault("retry.offer_plan.delay", "500ms")
	v.SetDefault("retry.offer_responses.attempts", 2)
	v.SetDefault("retry.offer_responses.delay", "250ms")
	v.SetDefault("offers.concurrency", 4)

	v.SetDefault("rate.burst", 20)
	v.SetDefault("rate.rps", 10)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("cors.origins", "")
	v.SetDefault("http.trusted_proxies", "")
	v.SetDefault("shutdown.timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("video.url", "")
	v.SetDefault("video.api_key", "")
	v.SetDefault("video.cache_ttl", "10m")

	v.SetDefault("otlp.endpoint", "")
	v.SetDefault("otlp.insecure", false)
}

// Load reads configuration. Environment variables win over the config file;
// a key such as retry.read.delay is read from GLG_RETRY_READ_DELAY.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("GLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:        v.GetString("http.addr"),
		GRPCAddr:        v.GetString("grpc.addr"),
		WarehouseDSN:    v.GetString("warehouse.dsn"),
		WarehouseSchema: v.GetString("warehouse.schema"),
		ProfileDSN:      v.GetString("profile.dsn"),
		Auth: Auth{
			Secret:       v.GetString("auth.secret"),
			PublicKeyPEM: v.GetString("auth.public_key_pem"),
			Issuer:       v.GetString("auth.issuer"),
			Audience:     v.GetString("auth.audience"),
		},
		Retry: Retry{
			Contact:        budget(v, "retry.contact"),
			Read:           budget(v, "retry.read"),
			OfferPlan:      budget(v, "retry.offer_plan"),
			OfferResponses: budget(v, "retry.offer_responses"),
		},
		OfferConcurrency: v.GetInt("offers.concurrency"),
		RateBurst:        v.GetInt("rate.burst"),
		RatePerSec:       v.GetInt("rate.rps"),
		MaxBodyBytes:     v.GetInt64("http.max_body_bytes"),
		CORSOrigins:      splitList(v.GetString("cors.origins")),
		ShutdownTimeout:  v.GetDuration("shutdown.timeout"),
		TrustedProxies:   splitList(v.GetString("http.trusted_proxies")),
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Video: Video{
			URL:      v.GetString("video.url"),
			APIKey:   v.GetString("video.api_key"),
			CacheTTL: v.GetDuration("video.cache_ttl"),
		},
		Tracing: Tracing{
			Endpoint: v.GetString("otlp.endpoint"),
			Insecure: v.GetBool("otlp.insecure"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" && strings.TrimSpace(c.Auth.PublicKeyPEM) == "" {
		errs = append(errs, errors.New("one of GLG_AUTH_SECRET or GLG_AUTH_PUBLIC_KEY_PEM is required"))
	}
	budgets := []struct {
		name string
		b    Budget
	}{
		{"contact", c.Retry.Contact},
		{"read", c.Retry.Read},
		{"offer_plan", c.Retry.OfferPlan},
		{"offer_responses", c.Retry.OfferResponses},
	}
	for _, rb := range budgets {
		if rb.b.Attempts < 1 {
			errs = append(errs, fmt.Errorf("retry.%s.attempts must be >= 1", rb.name))
		}
		if rb.b.Delay < 0 {
			errs = append(errs, fmt.Errorf("retry.%s.delay must be >= 0", rb.name))
		}
	}
	if c.RateBurst < 1 || c.RatePerSec < 1 {
		errs = append(errs, errors.New("rate.burst and rate.rps must be >= 1"))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, errors.New("http.max_body_bytes must be >= 1"))
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("http.trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	if c.Video.CacheTTL <= 0 {
		errs = append(errs, errors.New("video.cache_ttl must be > 0"))
	}
	return errors.Join(errs...)
}

func budget(v *viper.Viper, prefix string) Budget {
	return Budget{Attempts: v.GetInt(prefix + ".attempts"), Delay: v.GetDuration(prefix + ".delay")}
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
