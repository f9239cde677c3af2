// Package config handles configuration for the signing client, including
// defaults, JSON overlay, and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/common"
)

// Config holds runtime settings for a submission run.
//
// Fields:
//   - APIKey / APISecret: review-service credentials (JWT issuer and HMAC key).
//   - TokenTTL: lifetime of each signed token (the API rejects long-lived ones).
//   - BaseURL: API root; endpoint paths are resolved under "<BaseURL>addons/".
//   - ValidationCheckInterval / ValidationTimeout: validation polling knobs.
//   - ApprovalCheckInterval / ApprovalTimeout: approval polling knobs.
//   - DownloadDir: destination directory for the signed artifact.
//   - Channel: "listed" or anything else, treated as unlisted.
//   - Guid: existing add-on id; when set the run updates instead of creating.
//   - XpiPath: the package file to submit.
//   - IDFile: where a freshly generated add-on id is persisted (create path).
//   - Metadata: arbitrary add-on metadata merged into create/update requests.
//   - UserAgent: sent with every request.
type Config struct {
	APIKey                  string
	APISecret               string
	TokenTTL                time.Duration
	BaseURL                 string
	ValidationCheckInterval time.Duration
	ValidationTimeout       time.Duration
	ApprovalCheckInterval   time.Duration
	ApprovalTimeout         time.Duration
	DownloadDir             string
	Channel                 string
	Guid                    string
	XpiPath                 string
	IDFile                  string
	Metadata                map[string]any
	UserAgent               string
}

// ChannelListed selects the public release channel; every other value is
// treated as unlisted.
const ChannelListed = "listed"

// LoadDefaults populates c with the documented defaults.
func (c *Config) LoadDefaults() {
	c.TokenTTL = 5 * time.Minute
	c.BaseURL = "https://addons.mozilla.org/api/v4/"
	c.ValidationCheckInterval = 1 * time.Second
	c.ValidationTimeout = 5 * time.Minute
	c.ApprovalCheckInterval = 1 * time.Second
	c.ApprovalTimeout = 15 * time.Minute
	c.DownloadDir = "web-ext-artifacts"
	c.Channel = "unlisted"
	c.IDFile = ".web-extension-id"
	c.UserAgent = "addonsign/1.0"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate rejects configurations the workflow cannot run with. All returned
// errors match common.ErrConfiguration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", common.ErrConfiguration)
	}
	if c.XpiPath == "" {
		return fmt.Errorf("%w: no package file given", common.ErrConfiguration)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: base URL %q is not an absolute URL", common.ErrConfiguration, c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: base URL scheme %q is not supported", common.ErrConfiguration, u.Scheme)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token ttl must be positive", common.ErrConfiguration)
	}
	for name, d := range map[string]time.Duration{
		"validation check interval": c.ValidationCheckInterval,
		"validation timeout":        c.ValidationTimeout,
		"approval check interval":   c.ApprovalCheckInterval,
		"approval timeout":          c.ApprovalTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", common.ErrConfiguration, name)
		}
	}

	return nil
}
