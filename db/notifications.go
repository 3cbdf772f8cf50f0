package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/pubgate/domain"
)

const (
	sqlInsertNotification = `INSERT INTO notifications(user_id, account_id, post_id, in_reply_to_post_id, event_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT notifications.id, notifications.user_id, notifications.post_id,
		notifications.in_reply_to_post_id, notifications.event_type, notifications.read, notifications.created_at,
		` + accountColumns + ` FROM notifications
		INNER JOIN accounts ON accounts.id = notifications.account_id
		WHERE notifications.user_id = ? AND notifications.id < ?
		ORDER BY notifications.id DESC LIMIT ?`
	sqlMarkNotificationsRead        = `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`
	sqlCountUnreadNotifications     = `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`
	sqlDeleteNotificationsByPost    = `DELETE FROM notifications WHERE post_id = ? OR in_reply_to_post_id = ?`
	sqlDeleteNotificationsByAccount = `DELETE FROM notifications WHERE user_id = ? AND account_id = ?`
)

func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertNotification, n.UserId, n.Account.Id,
			nullInt(n.PostId), nullInt(n.InReplyToPostId), int(n.Type), n.CreatedAt.Unix())
		if err != nil {
			return err
		}
		n.Id, err = res.LastInsertId()
		return err
	})
}

// ReadNotifications returns userId's notifications newest first, starting
// below the notification id before (0 means from the top).
func (db *DB) ReadNotifications(ctx context.Context, userId, before int64, limit int) ([]domain.Notification, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := db.db.QueryContext(ctx, sqlSelectNotifications, userId, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var postId, inReplyTo sql.NullInt64
		var eventType int
		var createdAt int64
		acc, err := scanAccount(appendScanner{row: rows, before: []any{&n.Id, &n.UserId, &postId, &inReplyTo, &eventType, &n.Read, &createdAt}})
		if err != nil {
			return nil, err
		}
		n.Account = acc
		n.PostId = postId.Int64
		n.InReplyToPostId = inReplyTo.Int64
		n.Type = domain.NotificationType(eventType)
		n.CreatedAt = fromUnix(createdAt)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (db *DB) MarkNotificationsRead(ctx context.Context, userId int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkNotificationsRead, userId)
		return err
	})
}

func (db *DB) CountUnreadNotifications(ctx context.Context, userId int64) (int, error) {
	return db.count(ctx, sqlCountUnreadNotifications, userId)
}

func (db *DB) DeleteNotificationsByPost(ctx context.Context, postId int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteNotificationsByPost, postId, postId)
		return err
	})
}

// DeleteNotificationsByAccount removes notifications caused by accountId from
// userId's list, used when userId blocks accountId.
func (db *DB) DeleteNotificationsByAccount(ctx context.Context, userId, accountId int64) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteNotificationsByAccount, userId, accountId)
		return err
	})
}
