package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// SprintSource is the part of the sprint service the sweep needs.
type SprintSource interface {
	Overdue(ctx context.Context) ([]domain.Sprint, error)
	NotifyOverdue(ctx context.Context, sp domain.Sprint)
}

// OverdueSweep periodically reports ACTIVE sprints that ran past their end
// date. It only announces them; completing a sprint stays an explicit
// decision of an organization admin. Each sprint is reported at most once per
// renotify window. With a redis client the window is shared by every replica;
// otherwise, or while redis is unreachable, it is tracked per process.
type OverdueSweep struct {
	sprints   SprintSource
	redis     *redis.Client
	interval  time.Duration
	renotify  time.Duration
	reported  *gocache.Cache
	scheduler gocron.Scheduler
}

func NewOverdueSweep(sprints SprintSource, rc *redis.Client, interval, renotify time.Duration) (*OverdueSweep, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid sweep interval %s", interval)
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create overdue scheduler: %w", err)
	}
	return &OverdueSweep{
		sprints:   sprints,
		redis:     rc,
		interval:  interval,
		renotify:  renotify,
		reported:  gocache.New(renotify, renotify),
		scheduler: scheduler,
	}, nil
}

// Start schedules the sweep, running it once right away.
func (s *OverdueSweep) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.Run(ctx); err != nil {
				log.WithError(err).Error("overdue sweep failed")
			}
		}),
		gocron.WithName("overdue-sprints"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule overdue sweep: %w", err)
	}
	s.scheduler.Start()
	log.WithField("interval", s.interval).Info("overdue sweep started")
	return nil
}

func (s *OverdueSweep) Stop() error {
	return s.scheduler.Shutdown()
}

// Run performs one sweep and returns how many sprints were newly reported.
func (s *OverdueSweep) Run(ctx context.Context) (int, error) {
	overdue, err := s.sprints.Overdue(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sp := range overdue {
		if !s.claim(ctx, sp.ID) {
			continue
		}
		s.sprints.NotifyOverdue(ctx, sp)
		n++
	}
	if n > 0 {
		log.WithFields(log.Fields{"reported": n, "overdue": len(overdue)}).Info("overdue sprints reported")
	}
	return n, nil
}

// claim reserves the report of a sprint for the current renotify window.
func (s *OverdueSweep) claim(ctx context.Context, sprintID string) bool {
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, overdueKey(sprintID), 1, s.renotify).Result()
		if err == nil {
			return ok
		}
		log.WithError(err).WithField("sprint", sprintID).Warn("overdue claim failed, falling back to local dedupe")
	}
	return s.reported.Add(sprintID, struct{}{}, gocache.DefaultExpiration) == nil
}

func overdueKey(sprintID string) string {
	return "overdue-reported:" + sprintID
}
