package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/flagx"
	"github.com/dmitrijs2005/addonsign/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config.
//
// Fields left out of the JSON file keep their earlier (default) values.
type JsonConfig struct {
	APIKey                  *string         `json:"api_key"`
	APISecret               *string         `json:"api_secret"`
	TokenTTL                *timex.Duration `json:"token_ttl"`
	BaseURL                 *string         `json:"base_url"`
	ValidationCheckInterval *timex.Duration `json:"validation_check_interval"`
	ValidationTimeout       *timex.Duration `json:"validation_timeout"`
	ApprovalCheckInterval   *timex.Duration `json:"approval_check_interval"`
	ApprovalTimeout         *timex.Duration `json:"approval_timeout"`
	DownloadDir             *string         `json:"download_dir"`
	Channel                 *string         `json:"channel"`
	Guid                    *string         `json:"guid"`
	XpiPath                 *string         `json:"xpi_path"`
	IDFile                  *string         `json:"id_file"`
	Metadata                map[string]any  `json:"metadata"`
	UserAgent               *string         `json:"user_agent"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags (flagx.JsonConfigFlags); when no path
// is given nothing happens. Read or decode errors panic, matching the
// flag-parsing behavior (the caller may recover if desired). Unknown keys
// are rejected rather than silently dropped, so a typo'd option surfaces
// instead of falling back to its default.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jc); err != nil {
		panic(err)
	}

	setString(&cfg.APIKey, jc.APIKey)
	setString(&cfg.APISecret, jc.APISecret)
	setDuration(&cfg.TokenTTL, jc.TokenTTL)
	setString(&cfg.BaseURL, jc.BaseURL)
	setDuration(&cfg.ValidationCheckInterval, jc.ValidationCheckInterval)
	setDuration(&cfg.ValidationTimeout, jc.ValidationTimeout)
	setDuration(&cfg.ApprovalCheckInterval, jc.ApprovalCheckInterval)
	setDuration(&cfg.ApprovalTimeout, jc.ApprovalTimeout)
	setString(&cfg.DownloadDir, jc.DownloadDir)
	setString(&cfg.Channel, jc.Channel)
	setString(&cfg.Guid, jc.Guid)
	setString(&cfg.XpiPath, jc.XpiPath)
	setString(&cfg.IDFile, jc.IDFile)
	setString(&cfg.UserAgent, jc.UserAgent)
	if jc.Metadata != nil {
		cfg.Metadata = jc.Metadata
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
