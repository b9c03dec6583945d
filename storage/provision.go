package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/domain"
)

// Open connects to the configured backend. The returned close function
// releases the connection where the backend holds one.
func Open(ctx context.Context, c config.Config) (domain.Store, func() error, error) {
	if err := c.CheckStorage(); err != nil {
		return nil, nil, err
	}
	var (
		store   domain.Store
		closeFn = func() error { return nil }
	)
	switch c.StorageBackend {
	case config.BackendSQL:
		s, err := OpenSQL(c.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		store, closeFn = s, s.Close
	default:
		t, err := NewTables(c.StorageConnStr, c.BoardTable, c.ProjectsTable)
		if err != nil {
			return nil, nil, err
		}
		store = t
	}
	if c.ProjectCacheTTL > 0 {
		store = NewProjectCache(store, c.ProjectCacheTTL)
	}
	return store, closeFn, nil
}

// Provision creates the tables and queues the service uses. Existing ones
// are left alone, so it is safe to run on every deploy.
func Provision(ctx context.Context, connStr string, tables, queues []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range tables {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		log.WithField("table", name).Info("table ready")
	}
	for _, name := range queues {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
