package transport

import (
	"context"
	"fmt"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
)

// AuthError wraps any failure to obtain an authorized transport handle.
// Token load, refresh, and consent all belong to the credential provider;
// the bridge only distinguishes "authorized" from "not".
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("transport auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// Connector produces a connected, authorized Transport.
type Connector interface {
	Connect(ctx context.Context) (Transport, error)
}

// LocalCredConnector acquires credentials from a gmailctl-style config
// directory (credentials.json + cached token, interactive consent on first
// run).
type LocalCredConnector struct {
	ConfigDir string
}

func (c LocalCredConnector) Connect(ctx context.Context) (Transport, error) {
	svc, err := (localcred.Provider{}).Service(ctx, c.ConfigDir)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return NewGoogleAPIClient(svc), nil
}
