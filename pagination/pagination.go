// Package pagination implements cursor paging over ordered collections.
//
// Callers filter their candidates and sort them newest first by relational
// id before paging. A cursor names the last item of the previous page, so
// pages stay stable while new items are prepended.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/deemkeen/pubgate/domain"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is one page of items. Next is nil exactly when the page reaches the
// end of the sequence.
type Page[T any] struct {
	Items []T
	Next  *string
}

// Limit clamps a requested page size into [1, MaxLimit], defaulting to
// DefaultLimit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// EncodeCursor makes s opaque to clients.
func EncodeCursor(s string) string {
	return url.QueryEscape(s)
}

func DecodeCursor(s string) (string, error) {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return "", domain.Validation("invalid cursor")
	}
	return v, nil
}

// EncodeID encodes a relational row id as a cursor.
func EncodeID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DecodeID decodes a cursor made by EncodeID. An empty cursor is 0, the top
// of the collection.
func DecodeID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validation("invalid cursor")
	}
	return id, nil
}

// Paginate returns the page of items following the item whose key is the
// decoded cursor. An empty cursor starts at the first item; a cursor naming
// no item is rejected.
func Paginate[T any](items []T, key func(T) string, cursor string, limit int) (Page[T], error) {
	limit = Limit(limit)
	start := 0
	if cursor != "" {
		after, err := DecodeCursor(cursor)
		if err != nil {
			return Page[T]{}, err
		}
		idx := -1
		for i, item := range items {
			if key(item) == after {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Page[T]{}, domain.Validation("unknown cursor")
		}
		start = idx + 1
	}

	end := min(start+limit, len(items))
	page := Page[T]{Items: items[start:end]}
	if end < len(items) {
		next := EncodeCursor(key(items[end-1]))
		page.Next = &next
	}
	return page, nil
}

// ValidateSameHost rejects a cursor URL pointing at a different host than
// the collection it claims to continue.
func ValidateSameHost(cursorURL, collectionURL string) error {
	c, err := url.Parse(cursorURL)
	if err != nil || c.Host == "" {
		return domain.Validation("invalid cursor")
	}
	if domain.NormalizeDomain(c.Host) != domain.DomainOf(collectionURL) {
		return domain.Validation("cursor host does not match collection host")
	}
	return nil
}
