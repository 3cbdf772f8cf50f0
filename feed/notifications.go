package feed

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/pagination"
)

// NotificationService records interactions with internal accounts.
// Accounts are never notified of their own actions.
type NotificationService struct {
	store *db.DB
	log   *log.Logger
}

func NewNotificationService(store *db.DB, logger *log.Logger) *NotificationService {
	return &NotificationService{store: store, log: logger.WithPrefix("Notifications")}
}

func (s *NotificationService) Register(bus *events.Bus) {
	bus.Subscribe(domain.PostLikedEvent, s.onPostLiked)
	bus.Subscribe(domain.PostRepostedEvent, s.onPostReposted)
	bus.Subscribe(domain.PostRepliedEvent, s.onPostReplied)
	bus.Subscribe(domain.AccountFollowedEvent, s.onAccountFollowed)
	bus.Subscribe(domain.PostDeletedEvent, s.onPostDeleted)
	bus.Subscribe(domain.AccountBlockedEvent, s.onAccountBlocked)
}

func (s *NotificationService) notify(ctx context.Context, target *domain.Account, actorId int64, n domain.Notification) error {
	if target == nil || !target.IsInternal() || target.Id == actorId {
		return nil
	}
	n.UserId = target.Id
	n.Account = &domain.Account{Id: actorId}
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		return err
	}
	notificationsCreated.WithLabelValues(n.Type.String()).Inc()
	return nil
}

// postAuthor returns the author of postId, or nil when the post is gone.
func (s *NotificationService) postAuthor(ctx context.Context, postId int64) (*domain.Account, error) {
	post, err := s.store.ReadPostById(ctx, postId)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post.Author, nil
}

func (s *NotificationService) onPostLiked(ctx context.Context, e domain.Event) error {
	evt := e.(domain.PostLiked)
	author, err := s.postAuthor(ctx, evt.PostId)
	if err != nil {
		return err
	}
	return s.notify(ctx, author, evt.AccountId, domain.Notification{Type: domain.NotificationLike, PostId: evt.PostId})
}

func (s *NotificationService) onPostReposted(ctx context.Context, e domain.Event) error {
	evt := e.(domain.PostReposted)
	author, err := s.postAuthor(ctx, evt.PostId)
	if err != nil {
		return err
	}
	return s.notify(ctx, author, evt.AccountId, domain.Notification{Type: domain.NotificationRepost, PostId: evt.PostId})
}

func (s *NotificationService) onPostReplied(ctx context.Context, e domain.Event) error {
	evt := e.(domain.PostReplied)
	author, err := s.postAuthor(ctx, evt.InReplyToId)
	if err != nil {
		return err
	}
	return s.notify(ctx, author, evt.AccountId, domain.Notification{
		Type:            domain.NotificationReply,
		PostId:          evt.PostId,
		InReplyToPostId: evt.InReplyToId,
	})
}

func (s *NotificationService) onAccountFollowed(ctx context.Context, e domain.Event) error {
	evt := e.(domain.AccountFollowed)
	target, err := s.store.ReadAccountById(ctx, evt.AccountId)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.notify(ctx, target, evt.FollowerId, domain.Notification{Type: domain.NotificationFollow})
}

func (s *NotificationService) onPostDeleted(ctx context.Context, e domain.Event) error {
	return s.store.DeleteNotificationsByPost(ctx, e.(domain.PostDeleted).PostId)
}

func (s *NotificationService) onAccountBlocked(ctx context.Context, e domain.Event) error {
	evt := e.(domain.AccountBlocked)
	return s.store.DeleteNotificationsByAccount(ctx, evt.BlockerId, evt.AccountId)
}

// GetNotifications pages viewer's notifications, newest first.
func (s *NotificationService) GetNotifications(ctx context.Context, viewer *domain.Account, cursor string, limit int) (pagination.Page[domain.Notification], error) {
	before, err := pagination.DecodeID(cursor)
	if err != nil {
		return pagination.Page[domain.Notification]{}, err
	}
	limit = pagination.Limit(limit)
	items, err := s.store.ReadNotifications(ctx, viewer.Id, before, limit+1)
	if err != nil {
		return pagination.Page[domain.Notification]{}, err
	}
	page := pagination.Page[domain.Notification]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next := pagination.EncodeID(items[limit-1].Id)
		page.Next = &next
	}
	if page.Items == nil {
		page.Items = []domain.Notification{}
	}
	return page, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, viewer *domain.Account) error {
	return s.store.MarkNotificationsRead(ctx, viewer.Id)
}

func (s *NotificationService) UnreadCount(ctx context.Context, viewer *domain.Account) (int, error) {
	return s.store.CountUnreadNotifications(ctx, viewer.Id)
}
