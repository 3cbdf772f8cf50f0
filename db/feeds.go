package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/deemkeen/pubgate/domain"
)

// FeedChunkSize is the number of feed rows written per INSERT statement.
const FeedChunkSize = 1000

const (
	sqlInsertFeedRowsPrefix = `INSERT INTO feeds(user_id, post_id, post_type, audience, author_id, reposted_by_id, published_at) VALUES `
	sqlInsertFeedRowsSuffix = ` ON CONFLICT(user_id, post_id, reposted_by_id) DO NOTHING`

	sqlDeleteFeedRowsByPost           = `DELETE FROM feeds WHERE post_id = ?`
	sqlDeleteFeedRowsByRepost         = `DELETE FROM feeds WHERE post_id = ? AND reposted_by_id = ?`
	sqlDeleteFeedRowsByViewerAndActor = `DELETE FROM feeds WHERE user_id = ? AND (author_id = ? OR reposted_by_id = ?)`
	sqlDeleteFeedRowsByViewerAndHost  = `DELETE FROM feeds WHERE user_id = ? AND (
		author_id IN (SELECT id FROM accounts WHERE domain = ?) OR
		reposted_by_id IN (SELECT id FROM accounts WHERE domain = ?))`

	sqlSelectFeed = `SELECT feeds.id, feeds.reposted_by_id, ` + postColumns + `, ` + accountColumns + ` FROM feeds
		INNER JOIN posts ON posts.id = feeds.post_id
		INNER JOIN accounts ON accounts.id = posts.author_id
		WHERE feeds.user_id = ? AND feeds.post_type = ? AND feeds.id < ? AND posts.deleted_at IS NULL
		ORDER BY feeds.id DESC LIMIT ?`
	sqlCountFeedRowsForPost = `SELECT COUNT(*) FROM feeds WHERE post_id = ?`
)

// InsertFeedRows writes rows in chunks of FeedChunkSize inside a single
// transaction. Rows that already exist are ignored. It returns how many rows
// were inserted.
func (db *DB) InsertFeedRows(ctx context.Context, rows []domain.FeedRow) (int64, error) {
	var inserted int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for start := 0; start < len(rows); start += FeedChunkSize {
			end := min(start+FeedChunkSize, len(rows))
			chunk := rows[start:end]

			values := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*7)
			for i, r := range chunk {
				values[i] = "(?, ?, ?, ?, ?, ?, ?)"
				args = append(args, r.UserId, r.PostId, int(r.PostType), int(r.Audience), r.AuthorId, r.RepostedById, unix(r.PublishedAt))
			}
			res, err := tx.ExecContext(ctx, sqlInsertFeedRowsPrefix+strings.Join(values, ", ")+sqlInsertFeedRowsSuffix, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	return inserted, err
}

func (db *DB) deleteFeedRows(ctx context.Context, query string, args ...any) (int64, error) {
	var deleted int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func (db *DB) DeleteFeedRowsByPost(ctx context.Context, postId int64) (int64, error) {
	return db.deleteFeedRows(ctx, sqlDeleteFeedRowsByPost, postId)
}

func (db *DB) DeleteFeedRowsByRepost(ctx context.Context, postId, repostedById int64) (int64, error) {
	return db.deleteFeedRows(ctx, sqlDeleteFeedRowsByRepost, postId, repostedById)
}

// DeleteFeedRowsByViewerAndAccount removes from viewerId's feed everything
// authored or reposted by accountId.
func (db *DB) DeleteFeedRowsByViewerAndAccount(ctx context.Context, viewerId, accountId int64) (int64, error) {
	return db.deleteFeedRows(ctx, sqlDeleteFeedRowsByViewerAndActor, viewerId, accountId, accountId)
}

// DeleteFeedRowsByViewerAndDomain removes from viewerId's feed everything
// authored or reposted by accounts on host.
func (db *DB) DeleteFeedRowsByViewerAndDomain(ctx context.Context, viewerId int64, host string) (int64, error) {
	d := domain.NormalizeDomain(host)
	return db.deleteFeedRows(ctx, sqlDeleteFeedRowsByViewerAndHost, viewerId, d, d)
}

// ReadFeed returns a page of userId's feed of the given type, newest first,
// starting below the feed row id before (0 means from the top).
func (db *DB) ReadFeed(ctx context.Context, userId int64, feedType domain.FeedType, before int64, limit int) ([]domain.FeedItem, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := db.db.QueryContext(ctx, sqlSelectFeed, userId, int(feedType.PostType()), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.FeedItem
	reposters := map[int64]*domain.Account{}
	for rows.Next() {
		var item domain.FeedItem
		var repostedBy int64
		post, err := scanPostRow(appendScanner{row: rows, before: []any{&item.FeedId, &repostedBy}})
		if err != nil {
			return nil, err
		}
		item.Post = *post
		if repostedBy != 0 {
			reposters[repostedBy] = nil
			item.RepostedBy = &domain.Account{Id: repostedBy}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for id := range reposters {
		acc, err := db.ReadAccountById(ctx, id)
		if err != nil {
			return nil, err
		}
		reposters[id] = acc
	}
	for i := range items {
		if items[i].RepostedBy != nil {
			items[i].RepostedBy = reposters[items[i].RepostedBy.Id]
		}
	}
	return items, nil
}

func (db *DB) CountFeedRowsForPost(ctx context.Context, postId int64) (int, error) {
	return db.count(ctx, sqlCountFeedRowsForPost, postId)
}
