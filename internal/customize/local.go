package customize

import "context"

// Local collaborators are no-op stand-ins for the directory, volume,
// and secret services, used by dev deployments and the simulated
// provider path.

type LocalDirectory struct{}

func (LocalDirectory) Join(ctx context.Context, providerID string) error { return nil }

type LocalVolume struct{}

func (LocalVolume) Attach(ctx context.Context, providerID, owner string) error { return nil }
func (LocalVolume) Detach(ctx context.Context, providerID, owner string) error { return nil }
func (LocalVolume) SyncDotfiles(ctx context.Context, providerID, owner string) error {
	return nil
}

type LocalSecrets struct{}

func (LocalSecrets) InjectSecrets(ctx context.Context, providerID, owner string) error {
	return nil
}
