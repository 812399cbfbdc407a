// Package sqlite provides the durable artifact cache. Resuming long
// pipelines across process restarts is the engine's central value
// proposition, so cached entries land in a SQLite file rather than memory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/askiada/go-stepcache/pkg/logger"
	"github.com/askiada/go-stepcache/pkg/pipeline/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	experiment TEXT NOT NULL,
	queue      TEXT NOT NULL,
	step       TEXT NOT NULL,
	sample     TEXT NOT NULL,
	status     TEXT NOT NULL,
	digest     TEXT NOT NULL,
	artifact   BLOB,
	error      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	PRIMARY KEY (experiment, queue, step, sample)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_experiment ON artifacts (experiment);
`

// Cache is a SQLite-backed implementation of [cache.Cache]. Artifacts must
// be JSON-serializable; they are stored as JSON blobs and come back as the
// generic values encoding/json produces.
type Cache struct {
	db     *sql.DB
	stbl   sq.StatementBuilderType
	logger logger.Logger
}

var _ cache.Cache = (*Cache)(nil)

// Option configures the cache.
type Option func(*Cache)

// WithLogger sets the logger used for storage-level events.
func WithLogger(log logger.Logger) Option {
	return func(c *Cache) {
		c.logger = log
	}
}

// PrepareDSN normalizes a raw SQLite DSN, defaulting the journal mode to
// WAL and setting a busy timeout so concurrent workers writing new keys
// queue up instead of erroring.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}

	if i := strings.Index(uri, "?"); i != -1 {
		parsed, err := url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, errors.Wrap(err, "unable to parse dsn")
		}
		query = parsed
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(500)")
	}

	return uri + "?" + query.Encode(), nil
}

// New opens (and creates if needed) the cache database at the given DSN.
func New(uri string, opts ...Option) (*Cache, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open sqlite cache")
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(err, "unable to create cache schema")
	}

	c := &Cache{
		db:     db,
		stbl:   sq.StatementBuilder.RunWith(db),
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get see [cache.Cache].Get.
func (c *Cache) Get(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	row := c.stbl.
		Select("status", "digest", "artifact", "error", "created_at").
		From("artifacts").
		Where(sq.Eq{
			"experiment": key.Experiment,
			"queue":      key.Queue,
			"step":       key.Step,
			"sample":     key.Sample,
		}).
		QueryRowContext(ctx)

	var (
		entry     cache.Entry
		blob      []byte
		createdAt int64
	)
	err := row.Scan(&entry.Status, &entry.Digest, &blob, &entry.Error, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, errors.Wrap(err, "unable to read cache entry")
	}

	entry.CreatedAt = time.Unix(0, createdAt).UTC()

	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &entry.Artifact); err != nil {
			return cache.Entry{}, false, errors.Wrap(err, "unable to decode cached artifact")
		}
	}

	return entry, true, nil
}

// Put see [cache.Cache].Put.
func (c *Cache) Put(ctx context.Context, key cache.Key, entry cache.Entry) error {
	var blob []byte
	if entry.Artifact != nil {
		encoded, err := json.Marshal(entry.Artifact)
		if err != nil {
			return errors.Wrapf(err, "artifact for step %s is not serializable", key.Step)
		}
		blob = encoded
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := c.stbl.
		Insert("artifacts").
		Options("OR REPLACE").
		Columns("experiment", "queue", "step", "sample", "status", "digest", "artifact", "error", "created_at").
		Values(key.Experiment, key.Queue, key.Step, key.Sample, entry.Status, entry.Digest, blob, entry.Error, createdAt.UnixNano()).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to write cache entry")
	}

	return nil
}

// Invalidate see [cache.Cache].Invalidate.
func (c *Cache) Invalidate(ctx context.Context, experiment string) error {
	res, err := c.stbl.
		Delete("artifacts").
		Where(sq.Eq{"experiment": experiment}).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to invalidate experiment cache")
	}

	if removed, err := res.RowsAffected(); err == nil {
		c.logger.Debug("cache invalidated",
			zap.String("experiment", experiment),
			zap.Int64("entries", removed))
	}

	return nil
}

// List see [cache.Cache].List.
func (c *Cache) List(ctx context.Context, experiment string) ([]cache.KeyedEntry, error) {
	rows, err := c.stbl.
		Select("queue", "step", "sample", "status", "digest", "artifact", "error", "created_at").
		From("artifacts").
		Where(sq.Eq{"experiment": experiment}).
		OrderBy("queue", "step", "sample").
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list cache entries")
	}
	defer rows.Close()

	res := make([]cache.KeyedEntry, 0)
	for rows.Next() {
		var (
			keyed     cache.KeyedEntry
			blob      []byte
			createdAt int64
		)
		keyed.Key.Experiment = experiment

		err := rows.Scan(
			&keyed.Key.Queue,
			&keyed.Key.Step,
			&keyed.Key.Sample,
			&keyed.Entry.Status,
			&keyed.Entry.Digest,
			&blob,
			&keyed.Entry.Error,
			&createdAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan cache entry")
		}

		keyed.Entry.CreatedAt = time.Unix(0, createdAt).UTC()

		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &keyed.Entry.Artifact); err != nil {
				return nil, errors.Wrap(err, "unable to decode cached artifact")
			}
		}

		res = append(res, keyed)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to iterate cache entries")
	}

	return res, nil
}

// Close see [cache.Cache].Close.
func (c *Cache) Close() error {
	return c.db.Close()
}
