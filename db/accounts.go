package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/util"
	"github.com/google/uuid"
)

const accountColumns = `accounts.id, accounts.uuid, accounts.username, accounts.name, accounts.bio, accounts.url,
	accounts.avatar_url, accounts.banner_image_url, accounts.ap_id, accounts.ap_inbox_url, accounts.ap_shared_inbox_url,
	accounts.ap_outbox_url, accounts.ap_following_url, accounts.ap_followers_url, accounts.ap_liked_url,
	accounts.ap_public_key, accounts.ap_private_key, accounts.custom_fields, accounts.site_id,
	accounts.created_at, accounts.updated_at`

// Sites
const (
	sqlInsertSite       = `INSERT INTO sites(host, webhook_secret, created_at) VALUES (?, ?, ?)`
	sqlSelectSiteByHost = `SELECT id, host, webhook_secret, created_at FROM sites WHERE host = ?`
	sqlSelectSites      = `SELECT id, host, webhook_secret, created_at FROM sites ORDER BY id`
	sqlDeleteSite       = `DELETE FROM sites WHERE host = ?`
)

// Accounts
const (
	sqlInsertAccount = `INSERT INTO accounts(uuid, username, name, bio, url, avatar_url, banner_image_url, ap_id, ap_id_hash,
		ap_inbox_url, ap_shared_inbox_url, ap_outbox_url, ap_following_url, ap_followers_url, ap_liked_url,
		ap_public_key, ap_private_key, custom_fields, domain, site_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	// remote documents never overwrite an internal account
	sqlUpsertExternalAccount = sqlInsertAccount + `
		ON CONFLICT(ap_id_hash) DO UPDATE SET
			username = excluded.username, name = excluded.name, bio = excluded.bio, url = excluded.url,
			avatar_url = excluded.avatar_url, banner_image_url = excluded.banner_image_url,
			ap_inbox_url = excluded.ap_inbox_url, ap_shared_inbox_url = excluded.ap_shared_inbox_url,
			ap_outbox_url = excluded.ap_outbox_url, ap_following_url = excluded.ap_following_url,
			ap_followers_url = excluded.ap_followers_url, ap_liked_url = excluded.ap_liked_url,
			ap_public_key = excluded.ap_public_key, custom_fields = excluded.custom_fields,
			updated_at = excluded.updated_at
		WHERE accounts.site_id IS NULL`
	sqlUpdateAccountProfile = `UPDATE accounts SET name = ?, bio = ?, url = ?, avatar_url = ?, banner_image_url = ?,
		ap_inbox_url = ?, ap_shared_inbox_url = ?, ap_public_key = ?, updated_at = ? WHERE id = ?`
	sqlSelectAccountById        = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	sqlSelectAccountByApIdHash  = `SELECT ` + accountColumns + ` FROM accounts WHERE ap_id_hash = ?`
	sqlSelectAccountsBySiteId   = `SELECT ` + accountColumns + ` FROM accounts WHERE site_id = ?`
	sqlSelectAccountByUsername  = `SELECT ` + accountColumns + ` FROM accounts WHERE username = ? AND domain = ? ORDER BY site_id IS NULL, id LIMIT 1`
	sqlCountFollowersByAccount  = `SELECT COUNT(*) FROM follows WHERE following_id = ?`
	sqlCountFollowingByAccount  = `SELECT COUNT(*) FROM follows WHERE follower_id = ?`
	sqlCountPostsByAuthor       = `SELECT COUNT(*) FROM posts WHERE author_id = ? AND deleted_at IS NULL AND audience != 2`
	sqlCountLikedPostsByAccount = `SELECT COUNT(*) FROM likes WHERE account_id = ?`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*domain.Account, error) {
	var acc domain.Account
	var id string
	var privateKey, customFields sql.NullString
	var siteId sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&acc.Id, &id, &acc.Username, &acc.Name, &acc.Bio, &acc.URL,
		&acc.AvatarURL, &acc.BannerImageURL, &acc.ActorURI, &acc.InboxURI, &acc.SharedInboxURI,
		&acc.OutboxURI, &acc.FollowingURI, &acc.FollowersURI, &acc.LikedURI,
		&acc.PublicKeyPem, &privateKey, &customFields, &siteId, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	acc.UUID, _ = uuid.Parse(id)
	acc.PrivateKeyPem = privateKey.String
	acc.SiteId = siteId.Int64
	acc.CreatedAt = fromUnix(createdAt)
	acc.UpdatedAt = fromUnix(updatedAt)
	if customFields.Valid && customFields.String != "" {
		if err := json.Unmarshal([]byte(customFields.String), &acc.CustomFields); err != nil {
			return nil, fmt.Errorf("corrupt custom fields for account %d: %w", acc.Id, err)
		}
	}
	return &acc, nil
}

func scanAccounts(rows *sql.Rows) ([]domain.Account, error) {
	defer rows.Close()
	var accounts []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

func accountArgs(acc *domain.Account) []any {
	var customFields sql.NullString
	if len(acc.CustomFields) > 0 {
		b, _ := json.Marshal(acc.CustomFields)
		customFields = sql.NullString{String: string(b), Valid: true}
	}
	privateKey := sql.NullString{String: acc.PrivateKeyPem, Valid: acc.PrivateKeyPem != ""}
	return []any{
		acc.UUID.String(), acc.Username, acc.Name, acc.Bio, acc.URL, acc.AvatarURL, acc.BannerImageURL,
		acc.ActorURI, util.HashURI(acc.ActorURI),
		acc.InboxURI, acc.SharedInboxURI, acc.OutboxURI, acc.FollowingURI, acc.FollowersURI, acc.LikedURI,
		acc.PublicKeyPem, privateKey, customFields, acc.Domain(), nullInt(acc.SiteId),
		unix(acc.CreatedAt), unix(acc.UpdatedAt),
	}
}

// CreateSite provisions a tenant together with its internal account.
func (db *DB) CreateSite(ctx context.Context, host, webhookSecret string, acc *domain.Account) (*domain.Site, error) {
	if acc.PrivateKeyPem == "" || acc.PublicKeyPem == "" {
		return nil, domain.Validation("internal account requires a keypair")
	}
	host = domain.NormalizeDomain(host)
	site := &domain.Site{Host: host, WebhookSecret: webhookSecret, CreatedAt: time.Now().UTC()}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM sites WHERE host = ?`, host).Scan(&existing)
		if err == nil {
			return domain.Conflict("site %s already exists", host)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		res, err := tx.ExecContext(ctx, sqlInsertSite, host, webhookSecret, site.CreatedAt.Unix())
		if err != nil {
			return err
		}
		site.Id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		acc.SiteId = site.Id
		if acc.UUID == uuid.Nil {
			acc.UUID = uuid.New()
		}
		res, err = tx.ExecContext(ctx, sqlInsertAccount, accountArgs(acc)...)
		if err != nil {
			return err
		}
		acc.Id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (db *DB) DeleteSite(ctx context.Context, host string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE site_id = (SELECT id FROM sites WHERE host = ?)`, host)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlDeleteSite, host)
		return err
	})
}

func scanSite(row scanner) (*domain.Site, error) {
	var site domain.Site
	var createdAt int64
	if err := row.Scan(&site.Id, &site.Host, &site.WebhookSecret, &createdAt); err != nil {
		return nil, err
	}
	site.CreatedAt = fromUnix(createdAt)
	return &site, nil
}

func (db *DB) ReadSiteByHost(ctx context.Context, host string) (*domain.Site, error) {
	site, err := scanSite(db.db.QueryRowContext(ctx, sqlSelectSiteByHost, domain.NormalizeDomain(host)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("no site for host %s", host)
	}
	return site, err
}

func (db *DB) ReadSites(ctx context.Context) ([]domain.Site, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectSites)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sites []domain.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// ReadSiteAccount returns the single internal account of a site. More than
// one account for a site means the data is corrupt.
func (db *DB) ReadSiteAccount(ctx context.Context, siteId int64) (*domain.Account, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectAccountsBySiteId, siteId)
	if err != nil {
		return nil, err
	}
	accounts, err := scanAccounts(rows)
	if err != nil {
		return nil, err
	}
	switch len(accounts) {
	case 0:
		return nil, domain.NotFound("no account for site %d", siteId)
	case 1:
		return &accounts[0], nil
	}
	db.log.Error("Multiple accounts found for site", "site", siteId, "count", len(accounts))
	return nil, domain.Invariant("multiple accounts found for site %d", siteId)
}

// UpsertExternalAccount inserts or refreshes a remote actor keyed by its
// ActivityPub id and returns the stored row.
func (db *DB) UpsertExternalAccount(ctx context.Context, acc *domain.Account) (*domain.Account, error) {
	if acc.SiteId != 0 {
		return nil, domain.Validation("account %s is internal", acc.ActorURI)
	}
	if acc.UUID == uuid.Nil {
		acc.UUID = uuid.New()
	}
	acc.UpdatedAt = time.Now().UTC()
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertExternalAccount, accountArgs(acc)...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadAccountByApId(ctx, acc.ActorURI)
}

// UpdateAccount persists profile changes made by Account.UpdateProfile and
// stores the resulting events.
func (db *DB) UpdateAccount(ctx context.Context, acc *domain.Account, events []domain.Event) error {
	acc.UpdatedAt = time.Now().UTC()
	_, err := db.execWithEvents(ctx, events, sqlUpdateAccountProfile,
		acc.Name, acc.Bio, acc.URL, acc.AvatarURL, acc.BannerImageURL,
		acc.InboxURI, acc.SharedInboxURI, acc.PublicKeyPem, acc.UpdatedAt.Unix(), acc.Id)
	return err
}

func (db *DB) readAccount(ctx context.Context, query string, arg ...any) (*domain.Account, error) {
	acc, err := scanAccount(db.db.QueryRowContext(ctx, query, arg...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("account not found")
	}
	return acc, err
}

func (db *DB) ReadAccountById(ctx context.Context, id int64) (*domain.Account, error) {
	return db.readAccount(ctx, sqlSelectAccountById, id)
}

func (db *DB) ReadAccountByApId(ctx context.Context, apId string) (*domain.Account, error) {
	return db.readAccount(ctx, sqlSelectAccountByApIdHash, util.HashURI(apId))
}

// ReadAccountByUsername prefers the internal account when both exist.
func (db *DB) ReadAccountByUsername(ctx context.Context, username, host string) (*domain.Account, error) {
	return db.readAccount(ctx, sqlSelectAccountByUsername, username, domain.NormalizeDomain(host))
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (db *DB) CountFollowers(ctx context.Context, accountId int64) (int, error) {
	return db.count(ctx, sqlCountFollowersByAccount, accountId)
}

func (db *DB) CountFollowing(ctx context.Context, accountId int64) (int, error) {
	return db.count(ctx, sqlCountFollowingByAccount, accountId)
}

func (db *DB) CountPosts(ctx context.Context, authorId int64) (int, error) {
	return db.count(ctx, sqlCountPostsByAuthor, authorId)
}

func (db *DB) CountLikedPosts(ctx context.Context, accountId int64) (int, error) {
	return db.count(ctx, sqlCountLikedPostsByAccount, accountId)
}
