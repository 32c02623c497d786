package remonline

import (
	"strings"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	RateLimitRPM int
	RateBurst    int

	RetryCount int
	RetryDelay time.Duration

	BreakerEnabled  bool
	BreakerFailures int
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.remonline.app",
		Timeout:         10 * time.Second,
		RateLimitRPM:    60,
		RateBurst:       2,
		RetryCount:      2,
		RetryDelay:      500 * time.Millisecond,
		BreakerEnabled:  true,
		BreakerFailures: 5,
		BreakerTimeout:  60 * time.Second,
	}
}

// Enabled reports whether an API key is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RateLimitRPM <= 0 {
		c.RateLimitRPM = d.RateLimitRPM
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}
