package publishing

import (
	"bitbucket.org/mediaflowhq/publisher_backend/models"
)

// Registry maps platforms to providers. Assembled once at process start and
// read-only afterwards.
type Registry struct {
	providers map[models.AccountType]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.AccountType]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Get(platform models.AccountType) (Provider, bool) {
	p, ok := r.providers[platform]
	return p, ok
}

func (r *Registry) Platforms() []models.AccountType {
	out := make([]models.AccountType, 0, len(r.providers))
	for platform := range r.providers {
		out = append(out, platform)
	}
	return out
}
