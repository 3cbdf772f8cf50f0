package domain

import (
	"encoding/json"
	"fmt"
)

// Event is a domain event queued by an entity mutation and published by the
// store after the mutation is persisted.
type Event interface {
	EventName() string
}

const (
	PostCreatedEvent       = "post.created"
	PostRepliedEvent       = "post.replied"
	PostRepostedEvent      = "post.reposted"
	PostDerepostedEvent    = "post.dereposted"
	PostDeletedEvent       = "post.deleted"
	PostLikedEvent         = "post.liked"
	AccountFollowedEvent   = "account.followed"
	AccountUnfollowedEvent = "account.unfollowed"
	AccountBlockedEvent    = "account.blocked"
	AccountUnblockedEvent  = "account.unblocked"
	DomainBlockedEvent     = "domain.blocked"
	DomainUnblockedEvent   = "domain.unblocked"
	AccountUpdatedEvent    = "account.updated"
)

type PostCreated struct {
	PostId int64 `json:"postId"`
}

type PostReplied struct {
	PostId      int64 `json:"postId"`
	InReplyToId int64 `json:"inReplyToId"`
	AccountId   int64 `json:"accountId"`
}

type PostReposted struct {
	PostId    int64 `json:"postId"`
	AccountId int64 `json:"accountId"`
}

type PostDereposted struct {
	PostId    int64 `json:"postId"`
	AccountId int64 `json:"accountId"`
}

type PostDeleted struct {
	PostId    int64 `json:"postId"`
	AccountId int64 `json:"accountId"`
}

type PostLiked struct {
	PostId    int64 `json:"postId"`
	AccountId int64 `json:"accountId"`
}

// AccountFollowed: FollowerId started following AccountId.
type AccountFollowed struct {
	AccountId  int64 `json:"accountId"`
	FollowerId int64 `json:"followerId"`
}

type AccountUnfollowed struct {
	AccountId    int64 `json:"accountId"`
	UnfollowerId int64 `json:"unfollowerId"`
}

type AccountBlocked struct {
	AccountId int64 `json:"accountId"`
	BlockerId int64 `json:"blockerId"`
}

type AccountUnblocked struct {
	AccountId   int64 `json:"accountId"`
	UnblockerId int64 `json:"unblockerId"`
}

type DomainBlocked struct {
	Domain    string `json:"domain"`
	BlockerId int64  `json:"blockerId"`
}

type DomainUnblocked struct {
	Domain      string `json:"domain"`
	UnblockerId int64  `json:"unblockerId"`
}

type AccountUpdated struct {
	AccountId int64 `json:"accountId"`
}

func (PostCreated) EventName() string       { return PostCreatedEvent }
func (PostReplied) EventName() string       { return PostRepliedEvent }
func (PostReposted) EventName() string      { return PostRepostedEvent }
func (PostDereposted) EventName() string    { return PostDerepostedEvent }
func (PostDeleted) EventName() string       { return PostDeletedEvent }
func (PostLiked) EventName() string         { return PostLikedEvent }
func (AccountFollowed) EventName() string   { return AccountFollowedEvent }
func (AccountUnfollowed) EventName() string { return AccountUnfollowedEvent }
func (AccountBlocked) EventName() string    { return AccountBlockedEvent }
func (AccountUnblocked) EventName() string  { return AccountUnblockedEvent }
func (DomainBlocked) EventName() string     { return DomainBlockedEvent }
func (DomainUnblocked) EventName() string   { return DomainUnblockedEvent }
func (AccountUpdated) EventName() string    { return AccountUpdatedEvent }

var eventFactories = map[string]func() Event{
	PostCreatedEvent:       func() Event { return &PostCreated{} },
	PostRepliedEvent:       func() Event { return &PostReplied{} },
	PostRepostedEvent:      func() Event { return &PostReposted{} },
	PostDerepostedEvent:    func() Event { return &PostDereposted{} },
	PostDeletedEvent:       func() Event { return &PostDeleted{} },
	PostLikedEvent:         func() Event { return &PostLiked{} },
	AccountFollowedEvent:   func() Event { return &AccountFollowed{} },
	AccountUnfollowedEvent: func() Event { return &AccountUnfollowed{} },
	AccountBlockedEvent:    func() Event { return &AccountBlocked{} },
	AccountUnblockedEvent:  func() Event { return &AccountUnblocked{} },
	DomainBlockedEvent:     func() Event { return &DomainBlocked{} },
	DomainUnblockedEvent:   func() Event { return &DomainUnblocked{} },
	AccountUpdatedEvent:    func() Event { return &AccountUpdated{} },
}

// EncodeEvent serializes an event payload for the event outbox table.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent restores an event from its name and payload. The returned
// value is the event struct, not a pointer.
func DecodeEvent(name string, payload []byte) (Event, error) {
	factory, ok := eventFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	ptr := factory()
	if err := json.Unmarshal(payload, ptr); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	switch e := ptr.(type) {
	case *PostCreated:
		return *e, nil
	case *PostReplied:
		return *e, nil
	case *PostReposted:
		return *e, nil
	case *PostDereposted:
		return *e, nil
	case *PostDeleted:
		return *e, nil
	case *PostLiked:
		return *e, nil
	case *AccountFollowed:
		return *e, nil
	case *AccountUnfollowed:
		return *e, nil
	case *AccountBlocked:
		return *e, nil
	case *AccountUnblocked:
		return *e, nil
	case *DomainBlocked:
		return *e, nil
	case *DomainUnblocked:
		return *e, nil
	case *AccountUpdated:
		return *e, nil
	}
	return nil, fmt.Errorf("unhandled event %q", name)
}
