package cmd

import (
	"fmt"
	"os"

	"github.com/seedbuddy/crmseed/internal/config"
	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/httpconn"
)

// buildConnection resolves an org alias against the loaded config and
// returns a conn.Connection for it. Authentication itself (exchanging
// credentials for a bearer token) is the out-of-scope connection library's
// job; this reads a pre-issued access token from the env var named by the
// org profile's credential fields, matching httpconn's "thin adapter, not
// production-hardened" scope.
func buildConnection(cfg *config.Config, alias string) (conn.Connection, error) {
	org, err := cfg.GetOrg(alias)
	if err != nil {
		return nil, err
	}

	tokenEnv := org.ClientSecretEnv
	if tokenEnv == "" {
		tokenEnv = org.PasswordEnv
	}
	if tokenEnv == "" {
		return nil, fmt.Errorf("org %q has no credential env var configured", alias)
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("org %q: environment variable %s is not set", alias, tokenEnv)
	}

	return httpconn.New(httpconn.Config{
		InstanceURL: org.InstanceURL,
		APIVersion:  org.APIVersion,
		AccessToken: token,
	}), nil
}
