package db

import (
	"context"

	"github.com/deemkeen/pubgate/domain"
)

// Follows, blocks and domain blocks
const (
	sqlInsertFollow      = `INSERT INTO follows(follower_id, following_id, created_at) VALUES (?, ?, ?) ON CONFLICT(follower_id, following_id) DO NOTHING`
	sqlDeleteFollow      = `DELETE FROM follows WHERE follower_id = ? AND following_id = ?`
	sqlSelectIsFollowing = `SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = ? AND following_id = ?)`

	sqlSelectFollowersPage = `SELECT follows.id, ` + accountColumns + ` FROM follows
		INNER JOIN accounts ON accounts.id = follows.follower_id
		WHERE follows.following_id = ? AND follows.id < ?
		ORDER BY follows.id DESC LIMIT ?`
	sqlSelectFollowingPage = `SELECT follows.id, ` + accountColumns + ` FROM follows
		INNER JOIN accounts ON accounts.id = follows.following_id
		WHERE follows.follower_id = ? AND follows.id < ?
		ORDER BY follows.id DESC LIMIT ?`
	sqlSelectFollowers = `SELECT ` + accountColumns + ` FROM follows
		INNER JOIN accounts ON accounts.id = follows.follower_id
		WHERE follows.following_id = ?
		ORDER BY follows.id`
	sqlSelectInternalFollowerIds = `SELECT follows.follower_id FROM follows
		INNER JOIN accounts ON accounts.id = follows.follower_id
		WHERE follows.following_id = ? AND accounts.site_id IS NOT NULL`

	sqlInsertBlock      = `INSERT INTO blocks(blocker_id, blocked_id, created_at) VALUES (?, ?, ?) ON CONFLICT(blocker_id, blocked_id) DO NOTHING`
	sqlDeleteBlock      = `DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`
	sqlSelectIsBlocking = `SELECT EXISTS(SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?)`

	sqlInsertDomainBlock      = `INSERT INTO domain_blocks(blocker_id, domain, created_at) VALUES (?, ?, ?) ON CONFLICT(blocker_id, domain) DO NOTHING`
	sqlDeleteDomainBlock      = `DELETE FROM domain_blocks WHERE blocker_id = ? AND domain = ?`
	sqlSelectIsDomainBlocking = `SELECT EXISTS(SELECT 1 FROM domain_blocks WHERE blocker_id = ? AND domain = ?)`
	sqlSelectDomainBlocks     = `SELECT domain FROM domain_blocks WHERE blocker_id = ? ORDER BY id DESC`
)

// FollowEntry is one row of a followers or following page. FollowId is the
// page ordering key.
type FollowEntry struct {
	FollowId int64
	Account  domain.Account
}

// CreateFollow records the edge and its events. It reports false, without
// storing events, when the edge already exists.
func (db *DB) CreateFollow(ctx context.Context, f domain.Follow, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlInsertFollow, f.FollowerId, f.FollowingId, unix(f.CreatedAt))
}

// DeleteFollow removes the edge. It reports false when there was none.
func (db *DB) DeleteFollow(ctx context.Context, followerId, followingId int64, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlDeleteFollow, followerId, followingId)
}

func (db *DB) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	err := db.db.QueryRowContext(ctx, query, args...).Scan(&found)
	return found, err
}

func (db *DB) IsFollowing(ctx context.Context, followerId, followingId int64) (bool, error) {
	return db.exists(ctx, sqlSelectIsFollowing, followerId, followingId)
}

// ReadFollowersPage returns followers of accountId with follow ids below
// before (0 means from the top), newest first.
func (db *DB) ReadFollowersPage(ctx context.Context, accountId, before int64, limit int) ([]FollowEntry, error) {
	return db.readFollowPage(ctx, sqlSelectFollowersPage, accountId, before, limit)
}

func (db *DB) ReadFollowingPage(ctx context.Context, accountId, before int64, limit int) ([]FollowEntry, error) {
	return db.readFollowPage(ctx, sqlSelectFollowingPage, accountId, before, limit)
}

func (db *DB) readFollowPage(ctx context.Context, query string, accountId, before int64, limit int) ([]FollowEntry, error) {
	if before <= 0 {
		before = 1<<63 - 1
	}
	rows, err := db.db.QueryContext(ctx, query, accountId, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []FollowEntry
	for rows.Next() {
		var followId int64
		acc, err := scanAccount(prefixScanner{rows, &followId})
		if err != nil {
			return nil, err
		}
		entries = append(entries, FollowEntry{FollowId: followId, Account: *acc})
	}
	return entries, rows.Err()
}

// prefixScanner scans leading columns into extra before the account columns.
type prefixScanner struct {
	row   scanner
	extra *int64
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.row.Scan(append([]any{p.extra}, dest...)...)
}

// ReadFollowers returns every follower of accountId, oldest first.
func (db *DB) ReadFollowers(ctx context.Context, accountId int64) ([]domain.Account, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowers, accountId)
	if err != nil {
		return nil, err
	}
	return scanAccounts(rows)
}

// ReadInternalFollowerIds returns the followers of accountId that are site
// accounts, i.e. the ones that own a feed.
func (db *DB) ReadInternalFollowerIds(ctx context.Context, accountId int64) ([]int64, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectInternalFollowerIds, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) CreateBlock(ctx context.Context, b domain.Block, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlInsertBlock, b.BlockerId, b.BlockedId, unix(b.CreatedAt))
}

func (db *DB) DeleteBlock(ctx context.Context, blockerId, blockedId int64, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlDeleteBlock, blockerId, blockedId)
}

func (db *DB) IsBlocking(ctx context.Context, blockerId, blockedId int64) (bool, error) {
	return db.exists(ctx, sqlSelectIsBlocking, blockerId, blockedId)
}

func (db *DB) CreateDomainBlock(ctx context.Context, b domain.DomainBlock, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlInsertDomainBlock, b.BlockerId, domain.NormalizeDomain(b.Domain), unix(b.CreatedAt))
}

func (db *DB) DeleteDomainBlock(ctx context.Context, blockerId int64, host string, events []domain.Event) (bool, error) {
	return db.execWithEvents(ctx, events, sqlDeleteDomainBlock, blockerId, domain.NormalizeDomain(host))
}

func (db *DB) IsDomainBlocking(ctx context.Context, blockerId int64, host string) (bool, error) {
	return db.exists(ctx, sqlSelectIsDomainBlocking, blockerId, domain.NormalizeDomain(host))
}

func (db *DB) ReadDomainBlocks(ctx context.Context, blockerId int64) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectDomainBlocks, blockerId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// IsBlockedBy reports whether blockerId blocks target, either directly or by
// blocking target's domain.
func (db *DB) IsBlockedBy(ctx context.Context, blockerId int64, target *domain.Account) (bool, error) {
	blocked, err := db.IsBlocking(ctx, blockerId, target.Id)
	if err != nil || blocked {
		return blocked, err
	}
	return db.IsDomainBlocking(ctx, blockerId, target.Domain())
}

// ReadBlockerIds returns which of viewerIds block any of accountIds or
// domain-block any of domains.
func (db *DB) ReadBlockerIds(ctx context.Context, viewerIds []int64, accountIds []int64, domains []string) (map[int64]bool, error) {
	blockers := make(map[int64]bool)
	if len(viewerIds) == 0 {
		return blockers, nil
	}
	collect := func(query string, args []any) error {
		rows, err := db.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			blockers[id] = true
		}
		return rows.Err()
	}
	for _, chunk := range chunkIds(viewerIds, 500) {
		if len(accountIds) > 0 {
			q := `SELECT DISTINCT blocker_id FROM blocks WHERE blocker_id IN (` + placeholders(len(chunk)) + `) AND blocked_id IN (` + placeholders(len(accountIds)) + `)`
			if err := collect(q, append(int64Args(chunk), int64Args(accountIds)...)); err != nil {
				return nil, err
			}
		}
		if len(domains) > 0 {
			args := int64Args(chunk)
			for _, d := range domains {
				args = append(args, domain.NormalizeDomain(d))
			}
			q := `SELECT DISTINCT blocker_id FROM domain_blocks WHERE blocker_id IN (` + placeholders(len(chunk)) + `) AND domain IN (` + placeholders(len(domains)) + `)`
			if err := collect(q, args); err != nil {
				return nil, err
			}
		}
	}
	return blockers, nil
}

func chunkIds(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for size < len(ids) {
		ids, chunks = ids[size:], append(chunks, ids[:size])
	}
	return append(chunks, ids)
}
