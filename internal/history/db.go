package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/makotom/mbpsmeter/speedtest"
)

type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Store persists completed results and reads them back.
type Store interface {
	speedtest.Sink
	// List returns up to limit results; limit <= 0 returns all of them.
	List(ctx context.Context, limit int, order Order) ([]*speedtest.SpeedResult, error)
}

// DB is a Store backed by a sqlite database file.
type DB struct {
	*sql.DB
	keep int
}

type Option func(*DB)

// Keep bounds the database to the n newest results; 0 keeps everything.
func Keep(n int) Option {
	return func(db *DB) {
		db.keep = n
	}
}

// Open opens or creates the database at path and makes sure the schema exists.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "database open failed")
	}
	// one writer at a time; this also keeps ":memory:" databases on a single connection
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	for _, opt := range opts {
		opt(db)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not enable WAL mode")
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS speed_results (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        timestamp INTEGER NOT NULL,
        server TEXT NOT NULL DEFAULT '',
        client_ip TEXT NOT NULL DEFAULT '',
        ping_ms REAL NOT NULL,
        download_mbps REAL NOT NULL,
        upload_mbps REAL NOT NULL,
        download_partial BOOLEAN NOT NULL DEFAULT 0,
        upload_partial BOOLEAN NOT NULL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_speed_results_timestamp ON speed_results(timestamp);
    `

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "schema creation failed")
	}
	return nil
}

func (db *DB) Save(ctx context.Context, result *speedtest.SpeedResult) error {
	query := `
        INSERT INTO speed_results (id, timestamp, server, client_ip, ping_ms, download_mbps, upload_mbps, download_partial, upload_partial)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := db.ExecContext(ctx, query,
		result.ID,
		result.Timestamp.UnixNano(),
		result.Server,
		result.ClientIP,
		result.Ping,
		result.Download,
		result.Upload,
		result.DownloadPartial,
		result.UploadPartial,
	)
	if err != nil {
		return errors.Wrapf(err, "could not save result %s", result.ID)
	}

	if db.keep > 0 {
		if _, err := db.Prune(ctx, db.keep); err != nil {
			return err
		}
	}
	return nil
}

// List orders by timestamp; results saved with the same timestamp keep insertion order.
func (db *DB) List(ctx context.Context, limit int, order Order) ([]*speedtest.SpeedResult, error) {
	query := `
        SELECT id, timestamp, server, client_ip, ping_ms, download_mbps, upload_mbps, download_partial, upload_partial
        FROM speed_results
        ORDER BY timestamp DESC, seq DESC
        LIMIT ?
    `
	if order == OldestFirst {
		// the newest `limit` rows, oldest of them first
		query = `
        SELECT * FROM (
            SELECT id, timestamp, server, client_ip, ping_ms, download_mbps, upload_mbps, download_partial, upload_partial, seq
            FROM speed_results
            ORDER BY timestamp DESC, seq DESC
            LIMIT ?
        ) ORDER BY timestamp ASC, seq ASC
        `
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not query results")
	}
	defer rows.Close()

	results := []*speedtest.SpeedResult{}
	for rows.Next() {
		r := &speedtest.SpeedResult{}
		var timestamp int64
		dest := []interface{}{&r.ID, &timestamp, &r.Server, &r.ClientIP, &r.Ping, &r.Download, &r.Upload, &r.DownloadPartial, &r.UploadPartial}
		if order == OldestFirst {
			var seq int64
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "could not read result")
		}
		r.Timestamp = time.Unix(0, timestamp).UTC()
		results = append(results, r)
	}

	return results, errors.Wrap(rows.Err(), "could not read results")
}

// Prune deletes everything but the keep newest results and reports how many went.
func (db *DB) Prune(ctx context.Context, keep int) (int64, error) {
	query := `
        DELETE FROM speed_results
        WHERE seq NOT IN (
            SELECT seq FROM speed_results
            ORDER BY timestamp DESC, seq DESC
            LIMIT ?
        )
    `
	res, err := db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, errors.Wrap(err, "could not prune results")
	}
	return res.RowsAffected()
}
