// Command storage-init provisions the backing stores the event api is
// configured for. Every step is skipped when its setting is absent.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"event-api/internal/env"
	"event-api/storage"
)

func main() {
	if env.Bool("DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), env.Duration("STORAGE_INIT_TIMEOUT", 2*time.Minute))
	defer cancel()

	if connStr := env.String("STORAGE_CONNECTION_STRING", ""); connStr != "" {
		if err := createTables(ctx, connStr, []string{env.String("USERS_TABLE", "")}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		if err := createQueues(ctx, connStr, []string{env.String("JOURNAL_QUEUE", "")}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	if url := env.String("DATABASE_URL", ""); url != "" {
		pg, err := storage.OpenPostgres(ctx, url)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		err = pg.EnsureSchema(ctx)
		pg.Close()
		if err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		log.Info("postgres schema ready")
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
