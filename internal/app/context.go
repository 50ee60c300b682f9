// Package app resolves the active client for CLI invocations.
package app

import (
	"context"
	"errors"
	"fmt"

	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/repo"
)

// ResolveClient picks the client a command operates on. It prefers the
// explicit override, then a single-client database. When seedName is set
// and no client exists yet, one is created on the fly.
func ResolveClient(ctx context.Context, clientOverride, seedName, actorID string, e engine.Engine) (domain.Client, error) {
	if clientOverride != "" {
		c, err := e.Repo.GetClient(ctx, clientOverride)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Client{}, fmt.Errorf("client %s not found", clientOverride)
			}
			return domain.Client{}, err
		}
		return c, nil
	}
	c, err := e.Repo.SingleClient(ctx)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Client{}, err
	}
	if seedName == "" {
		return domain.Client{}, fmt.Errorf("no clients yet; run 'tl client create' or pass --client")
	}
	if actorID == "" {
		actorID = "local-user"
	}
	return e.CreateClient(ctx, seedName, "", actorID)
}
