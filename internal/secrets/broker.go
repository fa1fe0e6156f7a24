package secrets

import (
	"context"

	"github.com/clipcast/publisher/internal/model"
)

// Broker hands out credentials for the lifetime of one publish invocation.
// Each invocation constructs its own broker; nothing is shared across jobs
// and publishers never touch the store (or the environment) directly.
type Broker struct {
	store Store
	cache map[string]string
}

func NewBroker(store Store) *Broker {
	return &Broker{
		store: store,
		cache: make(map[string]string),
	}
}

// Lookup fetches every named secret. A missing secret fails the whole lookup;
// callers treat errors wrapping ErrNotFound as a credential problem scoped to
// the requesting target, anything else as a store transport problem.
func (b *Broker) Lookup(ctx context.Context, names ...string) (model.Credentials, error) {
	creds := make(model.Credentials, len(names))
	for _, name := range names {
		if v, ok := b.cache[name]; ok {
			creds[name] = v
			continue
		}
		v, err := b.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		b.cache[name] = v
		creds[name] = v
	}
	return creds, nil
}
