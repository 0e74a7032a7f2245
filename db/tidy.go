package db

import (
	"context"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// ReadRetention is how long a post stays marked read
const ReadRetention = 90 * 24 * time.Hour

// Pruner drops read marks that are older than a cutoff
type Pruner interface {
	PruneRead(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneRead removes read marks set before cutoff
func (db *DB) PruneRead(ctx context.Context, cutoff time.Time) (int64, error) {
	dlb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	dlb.DeleteFrom("read_posts").Where(dlb.LessThan("marked_at", cutoff))

	query, args := dlb.Build()
	res, err := db.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete error: %w", err)
	}
	return res.RowsAffected()
}

// Tidy prunes read marks older than ReadRetention
func Tidy(ctx context.Context, p Pruner) error {
	cutoff := time.Now().Add(-ReadRetention)
	pruned, err := p.PruneRead(ctx, cutoff)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"cutoff": cutoff.Format(time.RFC3339),
		"pruned": pruned,
	}).Info("Tidied read marks")
	return nil
}

// RunTidy tidies immediately and then on every tick until ctx is done
func RunTidy(ctx context.Context, p Pruner, interval time.Duration) {
	if err := Tidy(ctx, p); err != nil {
		log.Errorf("Error tidying read marks: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := Tidy(ctx, p); err != nil {
				log.Errorf("Error tidying read marks: %v", err)
			}
		}
	}
}
