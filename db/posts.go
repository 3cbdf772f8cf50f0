package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
)

const postColumns = `posts.id, posts.uuid, posts.type, posts.audience, posts.title, posts.excerpt, posts.content,
	posts.url, posts.image_url, posts.published_at, posts.in_reply_to, posts.thread_root, posts.ap_id,
	posts.like_count, posts.repost_count, posts.reply_count, posts.deleted_at`

// Posts, likes and reposts
const (
	sqlInsertPost = `INSERT INTO posts(uuid, type, audience, author_id, title, excerpt, content, url, image_url,
		published_at, in_reply_to, thread_root, ap_id, ap_id_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ap_id_hash) DO NOTHING`
	sqlSelectPostWithAuthor = `SELECT ` + postColumns + `, ` + accountColumns + ` FROM posts
		INNER JOIN accounts ON accounts.id = posts.author_id`
	sqlSelectPostById      = sqlSelectPostWithAuthor + ` WHERE posts.id = ?`
	sqlSelectPostByApHash  = sqlSelectPostWithAuthor + ` WHERE posts.ap_id_hash = ?`
	sqlSelectPostsByAuthor = sqlSelectPostWithAuthor + ` WHERE posts.author_id = ? AND posts.deleted_at IS NULL
		AND posts.audience = 0 AND posts.id < ? ORDER BY posts.id DESC LIMIT ?`
	sqlSoftDeletePost = `UPDATE posts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	sqlInsertLike   = `INSERT INTO likes(account_id, post_id, created_at) VALUES (?, ?, ?) ON CONFLICT(account_id, post_id) DO NOTHING`
	sqlDeleteLike   = `DELETE FROM likes WHERE account_id = ? AND post_id = ?`
	sqlInsertRepost = `INSERT INTO reposts(account_id, post_id, created_at) VALUES (?, ?, ?) ON CONFLICT(account_id, post_id) DO NOTHING`
	sqlDeleteRepost = `DELETE FROM reposts WHERE account_id = ? AND post_id = ?`

	sqlUpdateLikeCount   = `UPDATE posts SET like_count = (SELECT COUNT(*) FROM likes WHERE post_id = ?) WHERE id = ?`
	sqlUpdateRepostCount = `UPDATE posts SET repost_count = (SELECT COUNT(*) FROM reposts WHERE post_id = ?) WHERE id = ?`
	sqlUpdateReplyCount  = `UPDATE posts SET reply_count = (SELECT COUNT(*) FROM posts p WHERE p.in_reply_to = ? AND p.deleted_at IS NULL) WHERE id = ?`

	sqlSelectInteractionCounts = `SELECT reply_count, repost_count FROM posts WHERE ap_id_hash = ?`
	sqlSelectIsReposted        = `SELECT EXISTS(SELECT 1 FROM reposts WHERE account_id = ? AND post_id = ?)`
	sqlSelectIsLiked           = `SELECT EXISTS(SELECT 1 FROM likes WHERE account_id = ? AND post_id = ?)`
)

func (db *DB) readPost(ctx context.Context, query string, args ...any) (*domain.Post, error) {
	post, err := scanPostRow(db.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("post not found")
	}
	return post, err
}

// scanPostRow scans the post columns followed by the author's account columns.
func scanPostRow(row scanner) (*domain.Post, error) {
	var p domain.Post
	var id string
	var postType, audience int
	var publishedAt int64
	var inReplyTo, threadRoot, deletedAt sql.NullInt64
	postDest := []any{&p.Id, &id, &postType, &audience, &p.Title, &p.Excerpt, &p.Content,
		&p.URL, &p.ImageURL, &publishedAt, &inReplyTo, &threadRoot, &p.ObjectURI,
		&p.LikeCount, &p.RepostCount, &p.ReplyCount, &deletedAt}
	author, err := scanAccount(appendScanner{row: row, before: postDest})
	if err != nil {
		return nil, err
	}
	p.UUID, _ = uuid.Parse(id)
	p.Type = domain.PostType(postType)
	p.Audience = domain.Audience(audience)
	p.PublishedAt = fromUnix(publishedAt)
	p.InReplyTo = inReplyTo.Int64
	p.ThreadRoot = threadRoot.Int64
	if deletedAt.Valid {
		t := fromUnix(deletedAt.Int64)
		p.DeletedAt = &t
	}
	p.Author = author
	return &p, nil
}

// appendScanner scans the before destinations, then the ones passed to Scan.
type appendScanner struct {
	row    scanner
	before []any
}

func (a appendScanner) Scan(dest ...any) error {
	return a.row.Scan(append(append([]any{}, a.before...), dest...)...)
}

// CreatePost stores post and its creation events. replyTarget is the parent
// when post is a reply. It reports false, and loads the existing id into post,
// when a post with the same ActivityPub id already exists.
func (db *DB) CreatePost(ctx context.Context, post *domain.Post, replyTarget *domain.Post) (bool, error) {
	if post.Author == nil || post.Author.Id == 0 {
		return false, domain.Validation("post author must be stored first")
	}
	if post.UUID == uuid.Nil {
		post.UUID = uuid.New()
	}
	created := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertPost,
			post.UUID.String(), int(post.Type), int(post.Audience), post.Author.Id,
			post.Title, post.Excerpt, post.Content, post.URL, post.ImageURL,
			unix(post.PublishedAt), nullInt(post.InReplyTo), nullInt(post.ThreadRoot),
			post.ObjectURI, util.HashURI(post.ObjectURI))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE ap_id_hash = ?`, util.HashURI(post.ObjectURI)).Scan(&post.Id)
		}
		created = true
		post.Id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if replyTarget != nil {
			if _, err := tx.ExecContext(ctx, sqlUpdateReplyCount, replyTarget.Id, replyTarget.Id); err != nil {
				return err
			}
		}
		return appendEvents(ctx, tx, post.CreationEvents(replyTarget))
	})
	return created, err
}

func (db *DB) ReadPostById(ctx context.Context, id int64) (*domain.Post, error) {
	return db.readPost(ctx, sqlSelectPostById, id)
}

func (db *DB) ReadPostByApId(ctx context.Context, apId string) (*domain.Post, error) {
	return db.readPost(ctx, sqlSelectPostByApHash, util.HashURI(apId))
}

// ReadPublicPostsByAuthor returns public, non-deleted posts newest first.
func (db *DB) ReadPublicPostsByAuthor(ctx context.Context, authorId, before int64, limit int) ([]domain.Post, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := db.db.QueryContext(ctx, sqlSelectPostsByAuthor, authorId, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []domain.Post
	for rows.Next() {
		p, err := scanPostRow(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// SoftDeletePost marks the post deleted, keeping the row, and stores events.
func (db *DB) SoftDeletePost(ctx context.Context, post *domain.Post, events []domain.Event) error {
	deletedAt := time.Now().UTC()
	if post.DeletedAt != nil {
		deletedAt = *post.DeletedAt
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlSoftDeletePost, deletedAt.Unix(), post.Id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if post.InReplyTo != 0 {
			if _, err := tx.ExecContext(ctx, sqlUpdateReplyCount, post.InReplyTo, post.InReplyTo); err != nil {
				return err
			}
		}
		return appendEvents(ctx, tx, events)
	})
}

// interaction inserts or deletes a like/repost row, recomputes the matching
// count on the post and stores events when a row changed.
func (db *DB) interaction(ctx context.Context, query, countQuery string, accountId, postId int64, events []domain.Event, args ...any) (bool, error) {
	changed := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, append([]any{accountId, postId}, args...)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		changed = true
		if _, err := tx.ExecContext(ctx, countQuery, postId, postId); err != nil {
			return err
		}
		return appendEvents(ctx, tx, events)
	})
	return changed, err
}

func (db *DB) CreateLike(ctx context.Context, accountId, postId int64, events []domain.Event) (bool, error) {
	return db.interaction(ctx, sqlInsertLike, sqlUpdateLikeCount, accountId, postId, events, time.Now().Unix())
}

func (db *DB) DeleteLike(ctx context.Context, accountId, postId int64, events []domain.Event) (bool, error) {
	return db.interaction(ctx, sqlDeleteLike, sqlUpdateLikeCount, accountId, postId, events)
}

func (db *DB) CreateRepost(ctx context.Context, accountId, postId int64, events []domain.Event) (bool, error) {
	return db.interaction(ctx, sqlInsertRepost, sqlUpdateRepostCount, accountId, postId, events, time.Now().Unix())
}

func (db *DB) DeleteRepost(ctx context.Context, accountId, postId int64, events []domain.Event) (bool, error) {
	return db.interaction(ctx, sqlDeleteRepost, sqlUpdateRepostCount, accountId, postId, events)
}

func (db *DB) IsLiked(ctx context.Context, accountId, postId int64) (bool, error) {
	return db.exists(ctx, sqlSelectIsLiked, accountId, postId)
}

func (db *DB) IsReposted(ctx context.Context, accountId, postId int64) (bool, error) {
	return db.exists(ctx, sqlSelectIsReposted, accountId, postId)
}

// ReadInteractionCounts returns the reply and repost counts of the post with
// the given ActivityPub id. Unknown posts have zero counts.
func (db *DB) ReadInteractionCounts(ctx context.Context, apId string) (replies, reposts int, err error) {
	err = db.db.QueryRowContext(ctx, sqlSelectInteractionCounts, util.HashURI(apId)).Scan(&replies, &reposts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	return replies, reposts, err
}
