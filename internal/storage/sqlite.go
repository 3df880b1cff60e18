package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifybot/internal/access"
	"notifybot/pkg/logx"
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
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

// SaveWhitelist replaces the persisted whitelist with the given snapshot.
func (s *sqliteStore) SaveWhitelist(ctx context.Context, snap access.Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM whitelist`); err != nil {
		return err
	}
	ins := func(role string, ids []int64) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO whitelist(role, id) VALUES(?,?)`, role, id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := ins("maintainer", snap.Maintainers); err != nil {
		return err
	}
	if err := ins("admin", snap.Admins); err != nil {
		return err
	}
	if err := ins("group", snap.Groups); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadWhitelist returns the persisted whitelist. An empty database yields an
// empty snapshot, not an error.
func (s *sqliteStore) LoadWhitelist(ctx context.Context) (access.Snapshot, error) {
	var snap access.Snapshot
	if s == nil || s.db == nil {
		return snap, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, id FROM whitelist ORDER BY role, id`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var id int64
		if err := rows.Scan(&role, &id); err != nil {
			return snap, err
		}
		switch role {
		case "maintainer":
			snap.Maintainers = append(snap.Maintainers, id)
		case "admin":
			snap.Admins = append(snap.Admins, id)
		case "group":
			snap.Groups = append(snap.Groups, id)
		default:
			s.log.Warn("unknown whitelist role in storage", logx.String("role", role))
		}
	}
	return snap, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, e.Target, boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
