package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/util"
)

const (
	sqlUpsertMeta = `INSERT INTO key_value_meta(key, key_hash, activity_type, object_type, object_id_hash,
		reply_object_url, reply_object_url_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_hash) DO UPDATE SET activity_type = excluded.activity_type,
			object_type = excluded.object_type, object_id_hash = excluded.object_id_hash,
			reply_object_url = excluded.reply_object_url, reply_object_url_hash = excluded.reply_object_url_hash
		RETURNING id`
	metaColumns         = `id, key, activity_type, object_type, reply_object_url, created_at`
	sqlSelectReplyKeys  = `SELECT key FROM key_value_meta WHERE reply_object_url_hash = ? AND activity_type = 'Create' ORDER BY id`
	sqlSelectLatestKey  = `SELECT key FROM key_value_meta WHERE activity_type = ? AND object_id_hash = ? AND key LIKE ? ORDER BY id DESC LIMIT 1`
	sqlCountActivityFor = `SELECT COUNT(*) FROM key_value_meta WHERE activity_type = ? AND object_id_hash = ?`
)

// UpsertMeta records or refreshes the meta row of a stored document. An
// existing row keeps its id so recency order is that of first storage.
func (db *DB) UpsertMeta(ctx context.Context, m *domain.ActivityMeta) error {
	var replyHash string
	if m.ReplyObjectURI != "" {
		replyHash = util.HashURI(m.ReplyObjectURI)
	}
	var objectHash string
	if m.ObjectURI != "" {
		objectHash = util.HashURI(m.ObjectURI)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, sqlUpsertMeta, m.Key, util.HashURI(m.Key), m.ActivityType, m.ObjectType,
			objectHash, m.ReplyObjectURI, replyHash, m.CreatedAt.Unix()).Scan(&m.Id)
	})
}

// ReadMetaByKeys returns the meta rows of keys, indexed by key. Keys without
// a row are absent from the result.
func (db *DB) ReadMetaByKeys(ctx context.Context, keys []string) (map[string]domain.ActivityMeta, error) {
	result := make(map[string]domain.ActivityMeta, len(keys))
	for start := 0; start < len(keys); start += 500 {
		chunk := keys[start:min(start+500, len(keys))]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = util.HashURI(k)
		}
		rows, err := db.db.QueryContext(ctx, `SELECT `+metaColumns+` FROM key_value_meta WHERE key_hash IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var m domain.ActivityMeta
			var createdAt int64
			if err := rows.Scan(&m.Id, &m.Key, &m.ActivityType, &m.ObjectType, &m.ReplyObjectURI, &createdAt); err != nil {
				rows.Close()
				return nil, err
			}
			m.CreatedAt = fromUnix(createdAt)
			result[m.Key] = m
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ReadReplyKeys returns the keys of Create activities whose object replies to
// objectURI, oldest first.
func (db *DB) ReadReplyKeys(ctx context.Context, objectURI string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectReplyKeys, util.HashURI(objectURI))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ReadLatestActivityKey returns the newest stored activity of activityType
// about objectURI whose key starts with keyPrefix, or "" when there is none.
func (db *DB) ReadLatestActivityKey(ctx context.Context, activityType, objectURI, keyPrefix string) (string, error) {
	var key string
	err := db.db.QueryRowContext(ctx, sqlSelectLatestKey, activityType, util.HashURI(objectURI), keyPrefix+"%").Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return key, err
}

// CountActivitiesFor counts stored activities of activityType about objectURI.
func (db *DB) CountActivitiesFor(ctx context.Context, activityType, objectURI string) (int, error) {
	return db.count(ctx, sqlCountActivityFor, activityType, util.HashURI(objectURI))
}
