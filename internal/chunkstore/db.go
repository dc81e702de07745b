package chunkstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// schema mirrors the two tables in
// original_source/src/components/ndn-lib/src/local_store.rs's
// ChunkDb: chunk_items keyed by chunk_id, and chunk_links mapping one
// chunk id to another (used for SameAs-style aliasing, spec §4.4).
const schema = `
CREATE TABLE IF NOT EXISTS chunk_items (
	chunk_id TEXT PRIMARY KEY,
	chunk_size INTEGER NOT NULL,
	chunk_state TEXT NOT NULL,
	already_write_size INTEGER NOT NULL DEFAULT 0,
	create_uid TEXT NOT NULL DEFAULT '',
	create_appid TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	create_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_links (
	link_chunk_id TEXT PRIMARY KEY,
	target_chunk_id TEXT NOT NULL REFERENCES chunk_items(chunk_id)
);
`

type db struct {
	conn *sql.DB
}

func openDB(path string) (*db, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: open metadata db", err)
	}
	// modernc.org/sqlite connections are not safe for concurrent writers;
	// serialize at the database/sql pool level the way the teacher's
	// ChunkDb serializes through a single Mutex<Connection>.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: create schema", err)
	}
	return &db{conn: conn}, nil
}

func (d *db) Close() error { return d.conn.Close() }

func (d *db) insertNew(ctx context.Context, chunkID string, size uint64, uid, appID, description string, now time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO chunk_items (chunk_id, chunk_size, chunk_state, already_write_size, create_uid, create_appid, description, create_time, update_time)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
	`, chunkID, size, StateNew.String(), uid, appID, description, now.Unix(), now.Unix())
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: insert chunk item", err)
	}
	return nil
}

func (d *db) get(ctx context.Context, chunkID string) (*ChunkItem, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT chunk_id, chunk_size, chunk_state, already_write_size, create_uid, create_appid, description, create_time, update_time
		FROM chunk_items WHERE chunk_id = ?
	`, chunkID)

	var (
		id, state, uid, appID, description string
		size, written                      uint64
		createTime, updateTime             int64
	)
	if err := row.Scan(&id, &size, &state, &written, &uid, &appID, &description, &createTime, &updateTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("chunkstore: chunk %s", chunkID), nil)
		}
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: query chunk item", err)
	}

	chunkState, err := ParseChunkState(state)
	if err != nil {
		return nil, err
	}

	return &ChunkItem{
		ChunkId:          id,
		ChunkSize:        size,
		State:            chunkState,
		AlreadyWriteSize: written,
		CreateUid:        uid,
		CreateAppId:      appID,
		Description:      description,
		CreateTime:       time.Unix(createTime, 0).UTC(),
		UpdateTime:       time.Unix(updateTime, 0).UTC(),
	}, nil
}

// appendWrite additively bumps already_write_size and optionally flips
// chunk_state in a single statement, matching local_store.rs's
// append_chunk_data: "already_write_size = already_write_size + ?1".
func (d *db) appendWrite(ctx context.Context, chunkID string, delta uint64, newState ChunkState, now time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE chunk_items
		SET already_write_size = already_write_size + ?, chunk_state = ?, update_time = ?
		WHERE chunk_id = ?
	`, delta, newState.String(), now.Unix(), chunkID)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: append chunk write", err)
	}
	return nil
}

func (d *db) setState(ctx context.Context, chunkID string, state ChunkState, now time.Time) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE chunk_items SET chunk_state = ?, update_time = ? WHERE chunk_id = ?
	`, state.String(), now.Unix(), chunkID)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: set chunk state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ndnerr.Wrap(ndnerr.ErrNotFound, fmt.Sprintf("chunkstore: chunk %s", chunkID), nil)
	}
	return nil
}

func (d *db) link(ctx context.Context, linkChunkID, targetChunkID string) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunk_links (link_chunk_id, target_chunk_id) VALUES (?, ?)
	`, linkChunkID, targetChunkID)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: link chunk id", err)
	}
	return nil
}

func (d *db) resolveLink(ctx context.Context, linkChunkID string) (string, bool, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT target_chunk_id FROM chunk_links WHERE link_chunk_id = ?`, linkChunkID)
	var target string
	if err := row.Scan(&target); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: resolve chunk link", err)
	}
	return target, true, nil
}

func (d *db) listByState(ctx context.Context, state ChunkState) ([]*ChunkItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT chunk_id, chunk_size, chunk_state, already_write_size, create_uid, create_appid, description, create_time, update_time
		FROM chunk_items WHERE chunk_state = ?
	`, state.String())
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: list chunks by state", err)
	}
	defer rows.Close()

	var out []*ChunkItem
	for rows.Next() {
		var (
			id, st, uid, appID, description string
			size, written                   uint64
			createTime, updateTime          int64
		)
		if err := rows.Scan(&id, &size, &st, &written, &uid, &appID, &description, &createTime, &updateTime); err != nil {
			return nil, ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: scan chunk row", err)
		}
		chunkState, err := ParseChunkState(st)
		if err != nil {
			return nil, err
		}
		out = append(out, &ChunkItem{
			ChunkId: id, ChunkSize: size, State: chunkState, AlreadyWriteSize: written,
			CreateUid: uid, CreateAppId: appID, Description: description,
			CreateTime: time.Unix(createTime, 0).UTC(), UpdateTime: time.Unix(updateTime, 0).UTC(),
		})
	}
	return out, rows.Err()
}

func (d *db) delete(ctx context.Context, chunkID string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM chunk_items WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: delete chunk item", err)
	}
	return nil
}

// deleteLinksTo removes every chunk_links row aliasing targetChunkID,
// so Remove leaves no dangling alias pointing at a chunk that no
// longer exists.
func (d *db) deleteLinksTo(ctx context.Context, targetChunkID string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM chunk_links WHERE target_chunk_id = ?`, targetChunkID)
	if err != nil {
		return ndnerr.Wrap(ndnerr.ErrDbError, "chunkstore: delete chunk links", err)
	}
	return nil
}
