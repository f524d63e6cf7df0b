package main

// Operate on quota accounts directly against the configured store:
//   go run ./cmd/quotactl show google:1234
// or as a signed-in user through a running API:
//   GUARD_TOKEN=... go run ./cmd/quotactl remote can-create

import (
	"os"
	"strings"

	"lovepage-backend/internal/bootstrap"
	"lovepage-backend/internal/guard"
	"lovepage-backend/internal/shared/config"
	"lovepage-backend/internal/shared/telemetry"
)

func main() {
	open := func() (*bootstrap.App, error) {
		cfg := config.Load()
		telemetry.Configure("warn", os.Stderr)
		return bootstrap.Build(cfg)
	}
	dial := func(apiURL, token string) (*guard.Guard, error) {
		cfg := config.Load()
		telemetry.Configure("warn", os.Stderr)
		return dialGuard(cfg, apiURL, token)
	}
	if err := newRootCmd(open, dial).Execute(); err != nil {
		os.Exit(1)
	}
}

// dialGuard builds a Guard for apiURL signed in with token. Empty arguments
// fall back to GUARD_API_URL and GUARD_TOKEN.
func dialGuard(cfg config.Config, apiURL, token string) (*guard.Guard, error) {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = cfg.GuardAPIURL
	}
	if strings.TrimSpace(token) == "" {
		token = cfg.GuardToken
	}
	sess, err := guard.SessionFromToken(token)
	if err != nil {
		return nil, err
	}
	g := guard.New(guard.NewClient(apiURL, nil), guard.NewCache(cfg.GuardCacheSize, cfg.GuardCacheTTL))
	g.SignIn(sess)
	return g, nil
}
