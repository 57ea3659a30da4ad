package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/seqlab/run-uploader/internal/api"
	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/discovery"
	uploaderhttp "github.com/seqlab/run-uploader/internal/http"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// getAPIClient creates an API client from cfg and authenticates it, so
// credential problems surface before any run is touched.
func getAPIClient(ctx context.Context, cfg *config.Config) (*api.Client, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	if uploaderhttp.NeedsProxyPassword(cfg) {
		p := newPrompter(os.Stdin, os.Stderr)
		cfg.Proxy.Password = p.secret(fmt.Sprintf("Password for proxy user %s", cfg.Proxy.User), "")
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	if err := api.DefaultConnector.Connect(ctx, client); err != nil {
		return nil, explainAuth(err)
	}
	return client, nil
}

// explainAuth adds a hint for the user to auth failures.
func explainAuth(err error) error {
	var ue *uploaderr.Error
	if !errors.As(err, &ue) || ue.Kind != uploaderr.KindAuth {
		return err
	}
	switch ue.AuthReason {
	case uploaderr.AuthBadCredentials:
		return fmt.Errorf("%w (check username and password in the [server] section)", err)
	case uploaderr.AuthBadClientID:
		return fmt.Errorf("%w (check client_id in the [server] section)", err)
	case uploaderr.AuthBadClientSecret:
		return fmt.Errorf("%w (check client_secret in the [server] section)", err)
	}
	return err
}

// discoveryOptions builds discovery options from cfg.
func discoveryOptions(cfg *config.Config) discovery.Options {
	opts := discovery.DefaultOptions()
	if cfg.Uploader.SheetName != "" {
		opts.SheetName = cfg.Uploader.SheetName
	}
	if cfg.Uploader.SequenceSubdir != "" {
		opts.SequenceSubdir = cfg.Uploader.SequenceSubdir
	}
	return opts
}
