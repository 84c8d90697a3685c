package zones

import (
	"context"

	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/config"
)

// Factory constructs one authority per store kind.
type Factory interface {
	File(ctx context.Context, info authority.ZoneInfo, path string) (authority.Authority, error)
	Journal(ctx context.Context, info authority.ZoneInfo, zonePath, journalPath string, allowUpdate bool) (authority.Authority, error)
	Forward(ctx context.Context, info authority.ZoneInfo, store config.ForwardStore) (authority.Authority, error)
	Recursor(ctx context.Context, info authority.ZoneInfo, store config.RecursorStore) (authority.Authority, error)
	Blocklist(ctx context.Context, info authority.ZoneInfo, store config.BlocklistStore) (authority.Authority, error)
}

// Backends is the Factory of the authority package.
type Backends struct{}

// File implements Factory.
func (Backends) File(ctx context.Context, info authority.ZoneInfo, path string) (authority.Authority, error) {
	a, err := authority.NewFileAuthority(ctx, info, path)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Journal implements Factory.
func (Backends) Journal(ctx context.Context, info authority.ZoneInfo, zonePath, journalPath string, allowUpdate bool) (authority.Authority, error) {
	a, err := authority.NewJournalAuthority(ctx, info, zonePath, journalPath, allowUpdate)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Forward implements Factory.
func (Backends) Forward(ctx context.Context, info authority.ZoneInfo, store config.ForwardStore) (authority.Authority, error) {
	a, err := authority.NewForwardAuthority(ctx, info, store)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Recursor implements Factory.
func (Backends) Recursor(ctx context.Context, info authority.ZoneInfo, store config.RecursorStore) (authority.Authority, error) {
	a, err := authority.NewRecursorAuthority(ctx, info, store)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Blocklist implements Factory.
func (Backends) Blocklist(ctx context.Context, info authority.ZoneInfo, store config.BlocklistStore) (authority.Authority, error) {
	a, err := authority.NewBlocklistAuthority(ctx, info, store)
	if err != nil {
		return nil, err
	}
	return a, nil
}
