package notification

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// CompanyConfigSource loads company notification configuration. Implemented
// by repository.CompanyConfigRepository.
type CompanyConfigSource interface {
	GetByCompany(ctx context.Context, companyID string) (*repository.CompanyNotificationConfig, error)
}

// CompanyConfigCache fronts the company-config source with a short TTL.
// Writers call Invalidate after every update; the TTL only bounds staleness
// for updates made outside this process.
type CompanyConfigCache struct {
	source CompanyConfigSource
	cache  *gocache.Cache
}

// NewCompanyConfigCache creates a cache with the given TTL.
func NewCompanyConfigCache(source CompanyConfigSource, ttl time.Duration) *CompanyConfigCache {
	return &CompanyConfigCache{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Get returns the company's configuration, from cache when fresh.
func (c *CompanyConfigCache) Get(ctx context.Context, companyID string) (*repository.CompanyNotificationConfig, error) {
	if v, ok := c.cache.Get(companyID); ok {
		return v.(*repository.CompanyNotificationConfig), nil
	}
	cfg, err := c.source.GetByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(companyID, cfg)
	return cfg, nil
}

// Invalidate drops one company's cached entry. Call after every write.
func (c *CompanyConfigCache) Invalidate(companyID string) {
	c.cache.Delete(companyID)
}
