package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Option configures the services.
type Option func(*deps)

// WithBoardCache enables the read-side board cache.
func WithBoardCache(c BoardCache) Option { return func(d *deps) { d.cache = c } }

// WithPublisher sets where committed changes are announced.
func WithPublisher(p Publisher) Option { return func(d *deps) { d.pub = p } }

// WithClock overrides time.Now, mainly for tests around sprint windows.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

type deps struct {
	store Store
	cache BoardCache
	pub   Publisher
	now   func() time.Time
}

func newDeps(store Store, opts []Option) deps {
	if store == nil {
		panic("domain: store is nil")
	}
	d := deps{store: store, now: time.Now}
	for _, o := range opts {
		o(&d)
	}
	return d
}

// loadProject resolves a project the caller may see. Projects of other
// organizations are reported as missing.
func (d deps) loadProject(ctx context.Context, caller Caller, projectID string) (*Project, error) {
	if err := caller.check(); err != nil {
		return nil, err
	}
	p, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, storageErr(err)
	}
	if p.OrganizationID != caller.OrgID {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	return p, nil
}

func (d deps) loadSprint(ctx context.Context, projectID, sprintID string) (*Sprint, error) {
	s, err := d.store.GetSprint(ctx, projectID, sprintID)
	if err != nil {
		return nil, storageErr(err)
	}
	if s.ProjectID != projectID {
		return nil, fmt.Errorf("%w: sprint %s", ErrNotFound, sprintID)
	}
	return s, nil
}

func (d deps) evict(ctx context.Context, sprintIDs ...string) {
	if d.cache == nil {
		return
	}
	var ids []string
	for _, id := range sprintIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		d.cache.Evict(ctx, ids...)
	}
}

// publish announces a committed change. The write already succeeded, so a
// failed publish is logged and otherwise ignored.
func (d deps) publish(ctx context.Context, ev Event) {
	if d.pub == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = d.now().UnixNano()
	if err := d.pub.Publish(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityID, "project": ev.ProjectID}).Error("unable to publish event")
	}
}

// storageErr marks errors that did not originate in this package as storage
// failures so callers can tell them apart from guard rejections.
func storageErr(err error) error {
	if err == nil || IsKnown(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
