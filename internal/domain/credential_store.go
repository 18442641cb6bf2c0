package domain

import "context"

// CredentialStore persists sealed (encrypted) broker credential blobs,
// keyed by an opaque credential ID referenced from Subscription.BrokerCredentialID.
// The stored blob is opaque to the store; only internal/credentials.Box can
// open it.
type CredentialStore interface {
	Create(ctx context.Context, id, sealedBlob string) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}
