// Package config loads ERP connection settings from command line flags and
// environment.
package config

import (
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Config holds everything the client needs to reach one ERP database.
type Config struct {
	URL            string        `long:"url" env:"URL" default:"http://localhost:8069" description:"ERP base url"`
	Database       string        `long:"db" env:"DB" default:"odoo" description:"database name"`
	Username       string        `long:"username" env:"USERNAME" default:"admin" description:"login"`
	Password       string        `long:"password" env:"PASSWORD" default:"admin" description:"password or api key"`
	Timeout        time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"total request timeout"`
	ConnectTimeout time.Duration `long:"connect-timeout" env:"CONNECT_TIMEOUT" default:"10s" description:"connect timeout"`
	RateLimit      float64       `long:"rate-limit" env:"RATE_LIMIT" default:"0" description:"max calls per second, 0 for unlimited"`
	RateBurst      int           `long:"rate-burst" env:"RATE_BURST" default:"1" description:"rate limiter burst"`
	DiagPath       string        `long:"diag-path" env:"DIAG_PATH" description:"bolt file for unusable response bodies"`
	DiagMaxSize    int           `long:"diag-max-size" env:"DIAG_MAX_SIZE" default:"1048576" description:"max stored body size"`
}

// Discovery selects an ERP instance from a registry instead of a fixed URL.
type Discovery struct {
	Etcd     []string `long:"etcd" env:"ETCD" env-delim:"," description:"etcd endpoints"`
	Service  string   `long:"service" env:"SERVICE" default:"erp" description:"service name in the registry"`
	Balancer string   `long:"balancer" env:"BALANCER" default:"roundrobin" choice:"roundrobin" choice:"random" choice:"hash" description:"instance selection"`
}

// Enabled reports whether registry lookup was requested.
func (d Discovery) Enabled() bool { return len(d.Etcd) > 0 }

// Options groups all settings; it is embedded into erpctl's command line.
type Options struct {
	ERP       Config    `group:"erp" namespace:"erp" env-namespace:"ODOO"`
	Discovery Discovery `group:"discovery" namespace:"discovery" env-namespace:"DISCOVERY"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		URL:            "http://localhost:8069",
		Database:       "odoo",
		Username:       "admin",
		Password:       "admin",
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		RateBurst:      1,
		DiagMaxSize:    1 << 20,
	}
}

// Load parses args and the environment. Unknown flags are ignored so the
// same args can be shared with a command parser.
func Load(args []string) (*Options, error) {
	opts := &Options{}
	p := flags.NewParser(opts, flags.IgnoreUnknown)
	if _, err := p.ParseArgs(args); err != nil {
		return nil, errors.Wrap(err, "failed to parse options")
	}
	opts.ERP.Normalize()
	if err := opts.ERP.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Normalize trims the URL and drops its trailing slash. A connect timeout
// longer than the total timeout is cut down to it.
func (c *Config) Normalize() {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.Timeout > 0 && c.ConnectTimeout > c.Timeout {
		c.ConnectTimeout = c.Timeout
	}
}

// Validate checks that the settings can be used to build a client.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.Wrapf(err, "invalid url %q", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("invalid url %q, scheme must be http or https", c.URL)
	}
	if u.Host == "" {
		return errors.Errorf("invalid url %q, no host", c.URL)
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.ConnectTimeout < 0 {
		return errors.Errorf("connect timeout can't be negative, got %s", c.ConnectTimeout)
	}
	if c.ConnectTimeout > c.Timeout {
		return errors.Errorf("connect timeout %s is longer than timeout %s", c.ConnectTimeout, c.Timeout)
	}
	if c.RateLimit < 0 {
		return errors.Errorf("rate limit can't be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.Errorf("rate burst must be at least 1, got %d", c.RateBurst)
	}
	return nil
}
