package ports

import "context"

// CredentialResolver looks up named secrets for node implementations.
// Unknown names return an error matching domain.ErrNotFound.
type CredentialResolver interface {
	Get(ctx context.Context, name string) (string, error)
}
