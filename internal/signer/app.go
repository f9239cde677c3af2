// Package signer wires configuration, authentication, the HTTP gateway and
// the polling waiter into a runnable submission.
package signer

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/dmitrijs2005/addonsign/internal/filex"
	"github.com/dmitrijs2005/addonsign/internal/logging"
	"github.com/dmitrijs2005/addonsign/internal/signer/api"
	"github.com/dmitrijs2005/addonsign/internal/signer/auth"
	"github.com/dmitrijs2005/addonsign/internal/signer/config"
	"github.com/dmitrijs2005/addonsign/internal/signer/idfile"
	"github.com/dmitrijs2005/addonsign/internal/signer/poll"
	"github.com/dmitrijs2005/addonsign/internal/signer/transfer"
	"github.com/dmitrijs2005/addonsign/internal/signer/workflow"
)

type App struct {
	config *config.Config
	log    logging.Logger
}

func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	return &App{config: cfg, log: log}, nil
}

// Run executes one submission. The API secret is prompted for when it was
// not supplied through any configuration layer.
func (a *App) Run(ctx context.Context) (*workflow.SignResult, error) {
	cfg := a.config

	if err := filex.CheckRegularFile(cfg.XpiPath); err != nil {
		return nil, err
	}

	if cfg.APISecret == "" {
		secret, err := PromptSecret(os.Stderr)
		if err != nil {
			return nil, err
		}
		cfg.APISecret = string(secret)
	}

	signer := auth.NewSigner(auth.Credentials{Issuer: cfg.APIKey, Secret: []byte(cfg.APISecret)}, cfg.TokenTTL)
	client := api.NewClient(&http.Client{}, signer, cfg.UserAgent, a.log)
	waiter := poll.NewWaiter(client, poll.RealClock(), a.log)

	submission, err := workflow.NewSubmission(cfg, client, waiter, transfer.NewWriter(), idfile.NewPersister(), a.log)
	if err != nil {
		return nil, err
	}

	return submission.Run(ctx)
}
