package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"prism-board/domain"
)

// ProjectCache wraps a Store with an in-process cache of project lookups.
// Every request resolves its project first, so this saves one storage round
// trip per call.
type ProjectCache struct {
	domain.Store
	cache *gocache.Cache
}

func NewProjectCache(base domain.Store, ttl time.Duration) *ProjectCache {
	if base == nil {
		panic("storage.NewProjectCache: base storage is nil")
	}
	return &ProjectCache{Store: base, cache: gocache.New(ttl, 2*ttl)}
}

func (c *ProjectCache) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	if v, ok := c.cache.Get(projectID); ok {
		p := v.(domain.Project)
		return &p, nil
	}
	p, err := c.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(projectID, *p, gocache.DefaultExpiration)
	return p, nil
}

func (c *ProjectCache) DeleteProject(ctx context.Context, projectID string) error {
	err := c.Store.DeleteProject(ctx, projectID)
	c.cache.Delete(projectID)
	return err
}
