package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"syndicate/internal/platform"
	logx "syndicate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; it also serializes UpdateRecord.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Times are stored as unix nanoseconds.
func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func ptrNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func ptrStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

type scanner interface {
	Scan(dest ...any) error
}

const recordCols = `id, content_id, channel_id, platform, status, content, title, link, image_url,
	scheduled_for, published_at, external_id, external_url, error, retry_count, max_retries,
	created_at, updated_at`

func scanRecord(sc scanner) (Record, error) {
	var (
		r                   Record
		channel             sql.NullString
		plat, status        string
		scheduled, pub      sql.NullInt64
		createdAt, updateAt int64
	)
	err := sc.Scan(&r.ID, &r.ContentID, &channel, &plat, &status, &r.Content, &r.Title, &r.Link, &r.ImageURL,
		&scheduled, &pub, &r.ExternalID, &r.ExternalURL, &r.Error, &r.RetryCount, &r.MaxRetries,
		&createdAt, &updateAt)
	if err != nil {
		return Record{}, err
	}
	r.ChannelID = ptrStr(channel)
	r.Platform = platform.Platform(plat)
	r.Status = Status(status)
	r.ScheduledFor = ptrNanos(scheduled)
	r.PublishedAt = ptrNanos(pub)
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updateAt)
	return r, nil
}

func (s *sqliteStore) CreateRecord(ctx context.Context, r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrEmptyID
	}
	stamp(time.Now(), &r.CreatedAt, &r.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO distribution_records(`+recordCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ContentID, nullStr(r.ChannelID), string(r.Platform), string(r.Status), r.Content, r.Title, r.Link, r.ImageURL,
		nullNanos(r.ScheduledFor), nullNanos(r.PublishedAt), r.ExternalID, r.ExternalURL, r.Error, r.RetryCount, r.MaxRetries,
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrConflict
	}
	return err
}

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM distribution_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) UpdateRecord(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordCols+` FROM distribution_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	next.ID = id
	next.CreatedAt = cur.CreatedAt
	if next.UpdatedAt.Equal(cur.UpdatedAt) {
		next.UpdatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE distribution_records SET content_id=?, channel_id=?, platform=?, status=?, content=?, title=?, link=?, image_url=?,
		 scheduled_for=?, published_at=?, external_id=?, external_url=?, error=?, retry_count=?, max_retries=?, updated_at=?
		 WHERE id=?`,
		next.ContentID, nullStr(next.ChannelID), string(next.Platform), string(next.Status), next.Content, next.Title, next.Link, next.ImageURL,
		nullNanos(next.ScheduledFor), nullNanos(next.PublishedAt), next.ExternalID, next.ExternalURL, next.Error, next.RetryCount, next.MaxRetries,
		toNanos(next.UpdatedAt), id,
	)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	// Round-trip through the column encoding so callers see what a later
	// GetRecord would return.
	next.UpdatedAt = fromNanos(toNanos(next.UpdatedAt))
	return next, nil
}

func recordWhere(f RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ContentID != "" {
		conds = append(conds, "content_id = ?")
		args = append(args, f.ContentID)
	}
	if f.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			ph = append(ph, "?")
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if f.ScheduledBefore != nil {
		conds = append(conds, "scheduled_for IS NOT NULL AND scheduled_for <= ?")
		args = append(args, toNanos(*f.ScheduledBefore))
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, toNanos(*f.CreatedBefore))
	}
	if f.UpdatedBefore != nil {
		conds = append(conds, "updated_at < ?")
		args = append(args, toNanos(*f.UpdatedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderLimit(f RecordFilter) string {
	dir := "ASC"
	if f.Newest {
		dir = "DESC"
	}
	q := " ORDER BY created_at " + dir + ", id " + dir
	switch {
	case f.Limit > 0:
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	case f.Offset > 0:
		q += " LIMIT -1"
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	return q
}

func (s *sqliteStore) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	where, args := recordWhere(f)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordCols+` FROM distribution_records`+where+orderLimit(f), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountRecords(ctx context.Context, f RecordFilter) (int, error) {
	where, args := recordWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM distribution_records`+where, args...).Scan(&n)
	return n, err
}

func (s *sqliteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM distribution_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int, len(AllStatuses))
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteRecords(ctx context.Context, f RecordFilter) (int, error) {
	where, args := recordWhere(f)
	q := `DELETE FROM distribution_records` + where
	if f.Limit > 0 {
		q = `DELETE FROM distribution_records WHERE id IN (SELECT id FROM distribution_records` + where +
			fmt.Sprintf(" ORDER BY created_at ASC LIMIT %d)", f.Limit)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const channelCols = `id, name, platform, url, enabled, is_custom, auto_publish, credentials, platform_rules,
	renew_interval_days, last_published_at, created_at, updated_at`

func scanChannel(sc scanner) (Channel, error) {
	var (
		c                    Channel
		plat, creds          string
		u, rules             sql.NullString
		lastPub              sql.NullInt64
		createdAt, updatedAt int64
	)
	err := sc.Scan(&c.ID, &c.Name, &plat, &u, &c.Enabled, &c.IsCustom, &c.AutoPublish, &creds, &rules,
		&c.RenewIntervalDays, &lastPub, &createdAt, &updatedAt)
	if err != nil {
		return Channel{}, err
	}
	c.Platform = platform.Platform(plat)
	c.URL = ptrStr(u)
	c.LastPublishedAt = ptrNanos(lastPub)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	if c.Platform.Valid() {
		cr, err := platform.DecodeCredentials(c.Platform, []byte(creds))
		if err != nil {
			return Channel{}, fmt.Errorf("channel %s: %w", c.ID, err)
		}
		c.Credentials = cr
	}
	if rules.Valid && rules.String != "" {
		var r platform.RuleOverride
		if err := json.Unmarshal([]byte(rules.String), &r); err != nil {
			return Channel{}, fmt.Errorf("channel %s rules: %w", c.ID, err)
		}
		c.PlatformRules = &r
	}
	return c, nil
}

func encodeChannel(c Channel) (creds string, rules any, err error) {
	b, err := platform.EncodeCredentials(c.Credentials)
	if err != nil {
		return "", nil, err
	}
	if c.PlatformRules != nil {
		rb, err := json.Marshal(c.PlatformRules)
		if err != nil {
			return "", nil, err
		}
		rules = string(rb)
	}
	return string(b), rules, nil
}

func (s *sqliteStore) CreateChannel(ctx context.Context, c Channel) error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyID
	}
	stamp(time.Now(), &c.CreatedAt, &c.UpdatedAt)
	creds, rules, err := encodeChannel(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO distribution_channels(`+channelCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, string(c.Platform), nullStr(c.URL), c.Enabled, c.IsCustom, c.AutoPublish, creds, rules,
		c.RenewIntervalDays, nullNanos(c.LastPublishedAt), toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrConflict
	}
	return err
}

func (s *sqliteStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	c, err := scanChannel(s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM distribution_channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) UpdateChannel(ctx context.Context, id string, fn func(*Channel) error) (Channel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Channel{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanChannel(tx.QueryRowContext(ctx, `SELECT `+channelCols+` FROM distribution_channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Channel{}, err
	}
	next.ID = id
	next.CreatedAt = cur.CreatedAt
	if next.UpdatedAt.Equal(cur.UpdatedAt) {
		next.UpdatedAt = time.Now()
	}
	creds, rules, err := encodeChannel(next)
	if err != nil {
		return Channel{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE distribution_channels SET name=?, platform=?, url=?, enabled=?, is_custom=?, auto_publish=?, credentials=?,
		 platform_rules=?, renew_interval_days=?, last_published_at=?, updated_at=? WHERE id=?`,
		next.Name, string(next.Platform), nullStr(next.URL), next.Enabled, next.IsCustom, next.AutoPublish, creds,
		rules, next.RenewIntervalDays, nullNanos(next.LastPublishedAt), toNanos(next.UpdatedAt), id,
	)
	if err != nil {
		return Channel{}, err
	}
	if err := tx.Commit(); err != nil {
		return Channel{}, err
	}
	next.UpdatedAt = fromNanos(toNanos(next.UpdatedAt))
	return next, nil
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM distribution_channels WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListChannels(ctx context.Context, f ChannelFilter) ([]Channel, error) {
	var (
		conds []string
		args  []any
	)
	if f.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, *f.Enabled)
	}
	if f.AutoPublish != nil {
		conds = append(conds, "auto_publish = ?")
		args = append(args, *f.AutoPublish)
	}
	q := `SELECT ` + channelCols + ` FROM distribution_channels`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Channel, 0)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	return err
}
