package ndnmgr

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// schema holds the NamedDataMgr's own metadata database (spec §6,
// separate from a chunk store's chunk.db): an object store keyed by
// ObjId, a current-binding path_table, and an append-only
// path_revisions history, mirroring chunkstore/db.go's single pure-Go
// SQLite connection pattern.
const schema = `
CREATE TABLE IF NOT EXISTS objects (
	obj_id TEXT PRIMARY KEY,
	obj_type TEXT NOT NULL,
	canonical TEXT NOT NULL,
	create_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS path_table (
	obj_path TEXT PRIMARY KEY,
	current_obj_id TEXT NOT NULL,
	share_policy TEXT NOT NULL,
	share_policy_config TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	sequence INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS path_revisions (
	obj_path TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	obj_id TEXT NOT NULL,
	share_policy TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	op_device TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (obj_path, sequence)
);
`

type db struct {
	conn *sql.DB
}

func openDB(path string) (*db, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: open metadata db", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: create schema", err)
	}
	return &db{conn: conn}, nil
}

func (d *db) Close() error { return d.conn.Close() }

func (d *db) putObject(ctx context.Context, objID, objType, canonical string, now time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO objects (obj_id, obj_type, canonical, create_time) VALUES (?, ?, ?, ?)
		ON CONFLICT(obj_id) DO UPDATE SET canonical = excluded.canonical
	`, objID, objType, canonical, now.Unix())
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: put object", err)
	}
	return nil
}

func (d *db) getObject(ctx context.Context, objID string) (canonical string, err error) {
	row := d.conn.QueryRowContext(ctx, `SELECT canonical FROM objects WHERE obj_id = ?`, objID)
	if err := row.Scan(&canonical); err != nil {
		if err == sql.ErrNoRows {
			return "", ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnmgr: object %s", objID), nil)
		}
		return "", ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: get object", err)
	}
	return canonical, nil
}

// pathRow is the path_table row shape, exported as PublicationRecord
// at the package API boundary.
type pathRow struct {
	ObjPath           string
	CurrentObjId      string
	SharePolicy       string
	SharePolicyConfig string
	Enabled           bool
	Sequence          uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (d *db) getPath(ctx context.Context, objPath string) (*pathRow, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT obj_path, current_obj_id, share_policy, share_policy_config, enabled, sequence, created_at, updated_at
		FROM path_table WHERE obj_path = ?
	`, objPath)
	var (
		p                    pathRow
		enabled              int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ObjPath, &p.CurrentObjId, &p.SharePolicy, &p.SharePolicyConfig, &enabled, &p.Sequence, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnmgr: path %s", objPath), nil)
		}
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: get path", err)
	}
	p.Enabled = enabled != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

// casPublish performs the CAS-gated publish of spec §4.5: if
// expectedSequence is non-nil, the write is rejected with the current
// sequence unless it matches; sequence is incremented by exactly one
// per successful publish, and an append-only path_revisions row is
// recorded alongside the path_table update, inside one transaction so
// a reader never observes current_obj_id and sequence out of step with
// the revision history.
func (d *db) casPublish(ctx context.Context, objPath, objID, sharePolicy, sharePolicyConfig string, expectedSequence *uint64, opDevice string, now time.Time) (uint64, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: begin publish tx", err)
	}
	defer tx.Rollback()

	var currentSeq uint64
	var exists bool
	row := tx.QueryRowContext(ctx, `SELECT sequence FROM path_table WHERE obj_path = ?`, objPath)
	switch err := row.Scan(&currentSeq); err {
	case nil:
		exists = true
	case sql.ErrNoRows:
		exists = false
	default:
		return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: read current sequence", err)
	}

	if expectedSequence != nil {
		if !exists {
			return 0, ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnmgr: path %s", objPath), nil)
		}
		if currentSeq != *expectedSequence {
			return 0, &ndnerr.Conflict{CurrentSequence: currentSeq}
		}
	}

	nextSeq := currentSeq + 1
	if exists {
		if _, err := tx.ExecContext(ctx, `
			UPDATE path_table SET current_obj_id = ?, share_policy = ?, share_policy_config = ?, sequence = ?, updated_at = ?, enabled = 1
			WHERE obj_path = ?
		`, objID, sharePolicy, sharePolicyConfig, nextSeq, now.Unix(), objPath); err != nil {
			return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: update path", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO path_table (obj_path, current_obj_id, share_policy, share_policy_config, enabled, sequence, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		`, objPath, objID, sharePolicy, sharePolicyConfig, nextSeq, now.Unix(), now.Unix()); err != nil {
			return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: insert path", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO path_revisions (obj_path, sequence, obj_id, share_policy, created_at, op_device)
		VALUES (?, ?, ?, ?, ?, ?)
	`, objPath, nextSeq, objID, sharePolicy, now.Unix(), opDevice); err != nil {
		return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: insert path revision", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: commit publish tx", err)
	}
	return nextSeq, nil
}

// setEnabled flips path_table.enabled without touching sequence or
// history, per spec §4.5: "enabled=false removes the binding from the
// read path but preserves the history."
func (d *db) setEnabled(ctx context.Context, objPath string, enabled bool, now time.Time) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	res, err := d.conn.ExecContext(ctx, `
		UPDATE path_table SET enabled = ?, updated_at = ? WHERE obj_path = ?
	`, enabledInt, now.Unix(), objPath)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "ndnmgr: set path enabled", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("ndnmgr: path %s", objPath), nil)
	}
	return nil
}
