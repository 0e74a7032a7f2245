package db

import (
	"context"
	"database/sql"
	"fmt"
	"scrollfeed/media"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const queryTimeout = 10 * time.Second

// DB stores marks in PostgreSQL with a shared connection pool
type DB struct {
	db *sql.DB
}

func buildConnectionString(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname,
	)
}

func NewDB(host string, port int, user, password, dbname string) (*DB, error) {
	connString := buildConnectionString(host, port, user, password, dbname)
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database %s:%d/%s: %w", host, port, dbname, err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Debug("Executing statement")

	return db.db.ExecContext(ctx, query, args...)
}

// Read marks

func (db *DB) MarkRead(ctx context.Context, postID string) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("read_posts").Cols("post_id", "marked_at").Values(postID, time.Now())
	ib.SQL("ON CONFLICT (post_id) DO NOTHING")

	query, args := ib.Build()
	if _, err := db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

func (db *DB) UnmarkRead(ctx context.Context, postID string) error {
	dlb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	dlb.DeleteFrom("read_posts").Where(dlb.Equal("post_id", postID))

	query, args := dlb.Build()
	if _, err := db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

func (db *DB) IsRead(ctx context.Context, postID string) (bool, error) {
	set, err := db.ReadSet(ctx, []string{postID})
	if err != nil {
		return false, err
	}
	return set[postID], nil
}

func (db *DB) ReadSet(ctx context.Context, ids []string) (map[string]bool, error) {
	set := make(map[string]bool)
	if len(ids) == 0 {
		return set, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("post_id").From("read_posts")
	sb.Where(fmt.Sprintf("post_id = ANY(%s)", sb.Args.Add(pq.Array(lo.Uniq(ids)))))

	query, args := sb.Build()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}

// Saved items

func (db *DB) Save(ctx context.Context, id string, variant media.Variant) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("saved_items").Cols("item_id", "variant", "saved_at").Values(id, variant.String(), time.Now())
	ib.SQL("ON CONFLICT (item_id, variant) DO NOTHING")

	query, args := ib.Build()
	if _, err := db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

func (db *DB) Unsave(ctx context.Context, id string, variant media.Variant) error {
	dlb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	dlb.DeleteFrom("saved_items").Where(
		dlb.Equal("item_id", id),
		dlb.Equal("variant", variant.String()),
	)

	query, args := dlb.Build()
	if _, err := db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

func (db *DB) IsSaved(ctx context.Context, id string, variant media.Variant) (bool, error) {
	key := media.Key{Variant: variant, ID: id}
	set, err := db.SavedSet(ctx, []media.Key{key})
	if err != nil {
		return false, err
	}
	return set[key], nil
}

func (db *DB) SavedSet(ctx context.Context, keys []media.Key) (map[media.Key]bool, error) {
	set := make(map[media.Key]bool)
	if len(keys) == 0 {
		return set, nil
	}

	ids := lo.Uniq(lo.Map(keys, func(key media.Key, _ int) string {
		return key.ID
	}))
	wanted := lo.SliceToMap(keys, func(key media.Key) (media.Key, bool) {
		return key, true
	})

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("item_id", "variant").From("saved_items")
	sb.Where(fmt.Sprintf("item_id = ANY(%s)", sb.Args.Add(pq.Array(ids))))

	query, args := sb.Build()
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, rawVariant string
		if err := rows.Scan(&id, &rawVariant); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		variant, err := media.ParseVariant(rawVariant)
		if err != nil {
			log.WithFields(log.Fields{
				"item_id": id,
				"variant": rawVariant,
			}).Warn("Ignoring saved item with unknown variant")
			continue
		}
		key := media.Key{Variant: variant, ID: id}
		if wanted[key] {
			set[key] = true
		}
	}
	return set, rows.Err()
}
