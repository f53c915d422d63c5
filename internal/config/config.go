package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	AppBaseURL  string `envconfig:"APP_BASE_URL" required:"true"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	RedisURL    string `envconfig:"REDIS_URL"`

	ClerkSecretKey     string `envconfig:"CLERK_SECRET_KEY" required:"true"`
	ClerkWebhookSecret string `envconfig:"CLERK_WEBHOOK_SECRET"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripePrices

	FalKey          string `envconfig:"FAL_KEY" required:"true"`
	FalBaseURL      string `envconfig:"FAL_BASE_URL" default:"https://queue.fal.run"`
	FalImageModel   string `envconfig:"FAL_IMAGE_MODEL" default:"fal-ai/flux-pro/kontext"`
	FalVideoModel   string `envconfig:"FAL_VIDEO_MODEL" default:"fal-ai/kling-video/v2.1/standard/image-to-video"`
	FalWebhookToken string `envconfig:"FAL_WEBHOOK_TOKEN"`

	SignupCredits int `envconfig:"SIGNUP_CREDITS" default:"5"`

	MetricsUser string `envconfig:"METRICS_USER"`
	MetricsPass string `envconfig:"METRICS_PASS"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"30"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honoured.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	JobStaleAfter    time.Duration `envconfig:"JOB_STALE_AFTER" default:"2h"`
	JobSweepSchedule string        `envconfig:"JOB_SWEEP_SCHEDULE" default:"@every 5m"`
}

// StripePrices holds the Stripe price ids for every purchasable plan and top-up.
type StripePrices struct {
	Starter     string `envconfig:"STRIPE_PRICE_STARTER"`
	Pro         string `envconfig:"STRIPE_PRICE_PRO"`
	Enterprise  string `envconfig:"STRIPE_PRICE_ENTERPRISE"`
	TopupSmall  string `envconfig:"STRIPE_PRICE_TOPUP_SMALL"`
	TopupMedium string `envconfig:"STRIPE_PRICE_TOPUP_MEDIUM"`
	TopupLarge  string `envconfig:"STRIPE_PRICE_TOPUP_LARGE"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	cfg.FalBaseURL = strings.TrimRight(cfg.FalBaseURL, "/")
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
