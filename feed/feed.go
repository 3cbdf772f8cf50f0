// Package feed maintains the per-account feed table and the notification
// list as views over domain events, and serves paged reads of both.
package feed

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/pagination"
)

// Service fans posts out into the feeds of internal accounts. Only internal
// accounts own a feed.
type Service struct {
	store *db.DB
	log   *log.Logger
}

func NewService(store *db.DB, logger *log.Logger) *Service {
	return &Service{store: store, log: logger.WithPrefix("Feed")}
}

// Register subscribes the service to the events that change feeds.
func (s *Service) Register(bus *events.Bus) {
	bus.Subscribe(domain.PostCreatedEvent, s.onPostCreated)
	bus.Subscribe(domain.PostRepostedEvent, s.onPostReposted)
	bus.Subscribe(domain.PostDeletedEvent, s.onPostDeleted)
	bus.Subscribe(domain.PostDerepostedEvent, s.onPostDereposted)
	bus.Subscribe(domain.AccountBlockedEvent, s.onAccountBlocked)
	bus.Subscribe(domain.DomainBlockedEvent, s.onDomainBlocked)
	bus.Subscribe(domain.AccountUnfollowedEvent, s.onAccountUnfollowed)
}

// visiblePost returns the post when it may enter feeds, nil otherwise.
func (s *Service) visiblePost(ctx context.Context, id int64) (*domain.Post, error) {
	post, err := s.store.ReadPostById(ctx, id)
	if domain.IsKind(err, domain.KindNotFound) {
		s.log.Debug("Post vanished before fan-out", "post", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if post.IsDeleted() || !post.Audience.FansOut() {
		return nil, nil
	}
	return post, nil
}

// viewers collects the internal accounts among ids and the internal
// followers of each account in followersOf, without duplicates.
func (s *Service) viewers(ctx context.Context, ids []int64, followersOf ...*domain.Account) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
	}
	for _, acc := range followersOf {
		followers, err := s.store.ReadInternalFollowerIds(ctx, acc.Id)
		if err != nil {
			return nil, fmt.Errorf("failed to read followers of %d: %w", acc.Id, err)
		}
		for _, id := range followers {
			add(id)
		}
	}
	return out, nil
}

// withoutBlockers drops the viewers blocking any of accounts or their domains.
func (s *Service) withoutBlockers(ctx context.Context, viewers []int64, accounts ...*domain.Account) ([]int64, error) {
	ids := make([]int64, 0, len(accounts))
	var domains []string
	for _, acc := range accounts {
		ids = append(ids, acc.Id)
		domains = append(domains, acc.Domain())
	}
	blockers, err := s.store.ReadBlockerIds(ctx, viewers, ids, domains)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocks: %w", err)
	}
	out := viewers[:0]
	for _, id := range viewers {
		if !blockers[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Service) insert(ctx context.Context, post *domain.Post, reposter *domain.Account, viewers []int64) error {
	if len(viewers) == 0 {
		return nil
	}
	rows := make([]domain.FeedRow, 0, len(viewers))
	for _, id := range viewers {
		row := domain.FeedRow{
			UserId:      id,
			PostId:      post.Id,
			PostType:    post.Type,
			Audience:    post.Audience,
			AuthorId:    post.Author.Id,
			PublishedAt: post.PublishedAt,
		}
		if reposter != nil {
			row.RepostedById = reposter.Id
		}
		rows = append(rows, row)
	}
	n, err := s.store.InsertFeedRows(ctx, rows)
	if err != nil {
		return fmt.Errorf("failed to insert feed rows for post %d: %w", post.Id, err)
	}
	feedRowsInserted.Add(float64(n))
	s.log.Debug("Fanned out post", "post", post.Id, "viewers", len(viewers), "inserted", n)
	return nil
}

func (s *Service) onPostCreated(ctx context.Context, e domain.Event) error {
	post, err := s.visiblePost(ctx, e.(domain.PostCreated).PostId)
	if err != nil || post == nil {
		return err
	}
	var direct []int64
	if post.Author.IsInternal() {
		direct = append(direct, post.Author.Id)
	}
	if post.InReplyTo != 0 {
		parent, err := s.store.ReadPostById(ctx, post.InReplyTo)
		if err != nil && !domain.IsKind(err, domain.KindNotFound) {
			return err
		}
		if parent != nil && parent.Author.IsInternal() {
			direct = append(direct, parent.Author.Id)
		}
	}
	viewers, err := s.viewers(ctx, direct, post.Author)
	if err != nil {
		return err
	}
	if viewers, err = s.withoutBlockers(ctx, viewers, post.Author); err != nil {
		return err
	}
	return s.insert(ctx, post, nil, viewers)
}

func (s *Service) onPostReposted(ctx context.Context, e domain.Event) error {
	evt := e.(domain.PostReposted)
	post, err := s.visiblePost(ctx, evt.PostId)
	if err != nil || post == nil {
		return err
	}
	reposter, err := s.store.ReadAccountById(ctx, evt.AccountId)
	if err != nil {
		return err
	}
	var direct []int64
	if reposter.IsInternal() {
		direct = append(direct, reposter.Id)
	}
	viewers, err := s.viewers(ctx, direct, reposter)
	if err != nil {
		return err
	}
	if viewers, err = s.withoutBlockers(ctx, viewers, post.Author, reposter); err != nil {
		return err
	}
	return s.insert(ctx, post, reposter, viewers)
}

func (s *Service) onPostDeleted(ctx context.Context, e domain.Event) error {
	_, err := s.store.DeleteFeedRowsByPost(ctx, e.(domain.PostDeleted).PostId)
	return err
}

func (s *Service) onPostDereposted(ctx context.Context, e domain.Event) error {
	evt := e.(domain.PostDereposted)
	_, err := s.store.DeleteFeedRowsByRepost(ctx, evt.PostId, evt.AccountId)
	return err
}

func (s *Service) onAccountBlocked(ctx context.Context, e domain.Event) error {
	evt := e.(domain.AccountBlocked)
	_, err := s.store.DeleteFeedRowsByViewerAndAccount(ctx, evt.BlockerId, evt.AccountId)
	return err
}

func (s *Service) onDomainBlocked(ctx context.Context, e domain.Event) error {
	evt := e.(domain.DomainBlocked)
	_, err := s.store.DeleteFeedRowsByViewerAndDomain(ctx, evt.BlockerId, evt.Domain)
	return err
}

func (s *Service) onAccountUnfollowed(ctx context.Context, e domain.Event) error {
	evt := e.(domain.AccountUnfollowed)
	_, err := s.store.DeleteFeedRowsByViewerAndAccount(ctx, evt.UnfollowerId, evt.AccountId)
	return err
}

// GetFeed pages viewer's feed of the given type, newest first. The cursor is
// the id of the last row of the previous page.
func (s *Service) GetFeed(ctx context.Context, viewer *domain.Account, feedType domain.FeedType, cursor string, limit int) (pagination.Page[domain.FeedItem], error) {
	before, err := pagination.DecodeID(cursor)
	if err != nil {
		return pagination.Page[domain.FeedItem]{}, err
	}
	limit = pagination.Limit(limit)
	items, err := s.store.ReadFeed(ctx, viewer.Id, feedType, before, limit+1)
	if err != nil {
		return pagination.Page[domain.FeedItem]{}, err
	}
	page := pagination.Page[domain.FeedItem]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next := pagination.EncodeID(items[limit-1].FeedId)
		page.Next = &next
	}
	if page.Items == nil {
		page.Items = []domain.FeedItem{}
	}
	return page, nil
}
