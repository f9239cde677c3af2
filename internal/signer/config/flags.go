package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-k string   API key (JWT issuer)
//	-s string   API secret (JWT HMAC key); prompted for when absent
//	-t int      token ttl in seconds
//	-b string   API base URL
//	-d string   download directory for the signed artifact
//	-l string   release channel ("listed" or "unlisted")
//	-g string   existing add-on id (triggers the update path)
//	-f string   package file (.xpi/.zip) to submit
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-k", "-s", "-t", "-b", "-d", "-l", "-g", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key (JWT issuer)")
	fs.StringVar(&cfg.APISecret, "s", cfg.APISecret, "API secret (JWT HMAC key)")
	tokenTTL := fs.Int("t", int(cfg.TokenTTL.Seconds()), "token ttl (in seconds)")
	fs.StringVar(&cfg.BaseURL, "b", cfg.BaseURL, "API base URL")
	fs.StringVar(&cfg.DownloadDir, "d", cfg.DownloadDir, "download directory")
	fs.StringVar(&cfg.Channel, "l", cfg.Channel, "release channel")
	fs.StringVar(&cfg.Guid, "g", cfg.Guid, "existing add-on id")
	fs.StringVar(&cfg.XpiPath, "f", cfg.XpiPath, "package file to submit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.TokenTTL = time.Duration(*tokenTTL) * time.Second
}
