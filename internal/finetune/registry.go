// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package finetune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/pdftomd/internal/httputil"
)

// ErrModelNotFound reports a model id the registry does not know.
var ErrModelNotFound = errors.New("model not found")

// resolveModel asks the registry whether id exists. An empty registry URL
// skips the check and leaves resolution to the trainer.
func (s *Stage) resolveModel(ctx context.Context, id, token string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: no model name configured", ErrModelNotFound)
	}
	if s.cfg.RegistryURL == "" {
		s.log.Debug().Str("model", id).Msg("registry check disabled")
		return nil
	}

	endpoint, err := url.JoinPath(s.cfg.RegistryURL, "api", "models", id)
	if err != nil {
		return fmt.Errorf("building registry URL for %s: %w", id, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httputil.DoWithRetry(s.log.WithContext(ctx), s.client, req, 0)
	if err != nil {
		return fmt.Errorf("querying registry for %s: %w", id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		s.log.Debug().Str("model", id).Msg("model found in registry")
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s is neither a local directory nor a registry model", ErrModelNotFound, id)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if token == "" {
			return fmt.Errorf("model %s is gated or private: add a token to .secrets/hf-token", id)
		}
		return fmt.Errorf("model %s: registry rejected the token (%s)", id, resp.Status)
	default:
		return fmt.Errorf("model %s: registry returned %s", id, resp.Status)
	}
}
