package db

import (
	"context"
	"database/sql"
)

// Timestamps are stored as unix seconds.
const (
	// Sites (tenants)
	sqlCreateSitesTable = `CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT UNIQUE NOT NULL,
		webhook_secret TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`

	// Local and remote actors
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		banner_image_url TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL,
		ap_id_hash TEXT UNIQUE NOT NULL,
		ap_inbox_url TEXT NOT NULL DEFAULT '',
		ap_shared_inbox_url TEXT NOT NULL DEFAULT '',
		ap_outbox_url TEXT NOT NULL DEFAULT '',
		ap_following_url TEXT NOT NULL DEFAULT '',
		ap_followers_url TEXT NOT NULL DEFAULT '',
		ap_liked_url TEXT NOT NULL DEFAULT '',
		ap_public_key TEXT NOT NULL DEFAULT '',
		ap_private_key TEXT,
		custom_fields TEXT,
		domain TEXT NOT NULL,
		site_id INTEGER REFERENCES sites(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`

	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain);
		CREATE INDEX IF NOT EXISTS idx_accounts_site_id ON accounts(site_id);
		CREATE INDEX IF NOT EXISTS idx_accounts_username_domain ON accounts(username, domain);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		follower_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		following_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		UNIQUE(follower_id, following_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_following_id ON follows(following_id);
	`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		blocker_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		blocked_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		UNIQUE(blocker_id, blocked_id)
	)`

	sqlCreateDomainBlocksTable = `CREATE TABLE IF NOT EXISTS domain_blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		blocker_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		domain TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(blocker_id, domain)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT UNIQUE NOT NULL,
		type INTEGER NOT NULL,
		audience INTEGER NOT NULL,
		author_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		excerpt TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		published_at INTEGER NOT NULL,
		in_reply_to INTEGER REFERENCES posts(id) ON DELETE SET NULL,
		thread_root INTEGER REFERENCES posts(id) ON DELETE SET NULL,
		ap_id TEXT NOT NULL,
		ap_id_hash TEXT UNIQUE NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0,
		repost_count INTEGER NOT NULL DEFAULT 0,
		reply_count INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_in_reply_to ON posts(in_reply_to);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		UNIQUE(account_id, post_id)
	)`

	sqlCreateRepostsTable = `CREATE TABLE IF NOT EXISTS reposts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		UNIQUE(account_id, post_id)
	)`

	// reposted_by_id is 0 for original posts so the unique key covers both
	sqlCreateFeedsTable = `CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		post_type INTEGER NOT NULL,
		audience INTEGER NOT NULL,
		author_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		reposted_by_id INTEGER NOT NULL DEFAULT 0,
		published_at INTEGER NOT NULL,
		UNIQUE(user_id, post_id, reposted_by_id)
	)`

	sqlCreateFeedsIndices = `
		CREATE INDEX IF NOT EXISTS idx_feeds_user_type ON feeds(user_id, post_type, id DESC);
		CREATE INDEX IF NOT EXISTS idx_feeds_post_id ON feeds(post_id);
		CREATE INDEX IF NOT EXISTS idx_feeds_user_author ON feeds(user_id, author_id);
	`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_id INTEGER REFERENCES posts(id) ON DELETE CASCADE,
		in_reply_to_post_id INTEGER REFERENCES posts(id) ON DELETE CASCADE,
		event_type INTEGER NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, id DESC);
	`

	sqlCreateDeliveryBackoffsTable = `CREATE TABLE IF NOT EXISTS delivery_backoffs (
		account_id INTEGER PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		backoff_until INTEGER NOT NULL,
		backoff_seconds INTEGER NOT NULL,
		last_failure_reason TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`

	// Relational index over the documents in the KV store
	sqlCreateKeyValueMetaTable = `CREATE TABLE IF NOT EXISTS key_value_meta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		key_hash TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL DEFAULT '',
		object_type TEXT NOT NULL DEFAULT '',
		object_id_hash TEXT NOT NULL DEFAULT '',
		reply_object_url TEXT NOT NULL DEFAULT '',
		reply_object_url_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`

	sqlCreateKeyValueMetaIndices = `
		CREATE INDEX IF NOT EXISTS idx_kv_meta_object_id_hash ON key_value_meta(object_id_hash, activity_type);
		CREATE INDEX IF NOT EXISTS idx_kv_meta_reply_hash ON key_value_meta(reply_object_url_hash);
	`

	// Transactional outbox of domain events
	sqlCreateDomainEventsTable = `CREATE TABLE IF NOT EXISTS domain_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		dispatched_at INTEGER
	)`

	sqlCreateDomainEventsIndices = `
		CREATE INDEX IF NOT EXISTS idx_domain_events_pending ON domain_events(dispatched_at, id);
	`
)

var migrations = []string{
	sqlCreateSitesTable,
	sqlCreateAccountsTable,
	sqlCreateAccountsIndices,
	sqlCreateFollowsTable,
	sqlCreateFollowsIndices,
	sqlCreateBlocksTable,
	sqlCreateDomainBlocksTable,
	sqlCreatePostsTable,
	sqlCreatePostsIndices,
	sqlCreateLikesTable,
	sqlCreateRepostsTable,
	sqlCreateFeedsTable,
	sqlCreateFeedsIndices,
	sqlCreateNotificationsTable,
	sqlCreateNotificationsIndices,
	sqlCreateDeliveryBackoffsTable,
	sqlCreateKeyValueMetaTable,
	sqlCreateKeyValueMetaIndices,
	sqlCreateDomainEventsTable,
	sqlCreateDomainEventsIndices,
}

// RunMigrations creates every table and index. It is safe to run repeatedly.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("Running migrations...")
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
