// Package pagination provides opaque cursors for paging newest-first result
// sets such as audit history.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the position just past the last item of a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns an opaque cursor string for the item (createdAt, id).
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// String encodes c.
func (c Cursor) String() string {
	return Encode(c.CreatedAt, c.ID)
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Key extracts the (createdAt, id) position of an item.
type Key[T any] func(T) (time.Time, string)

// After drops the items of a newest-first slice up to and including the
// cursor position. If the cursor item is gone, it keeps the items strictly
// older than the cursor time. A nil cursor returns items unchanged.
func After[T any](items []T, cur *Cursor, key Key[T]) []T {
	if cur == nil {
		return items
	}
	for i, it := range items {
		if _, id := key(it); id == cur.ID {
			return items[i+1:]
		}
	}
	for i, it := range items {
		if at, _ := key(it); at.Before(cur.CreatedAt) {
			return items[i:]
		}
	}
	return nil
}

// Page is one page of a result set.
type Page[T any] struct {
	Items      []T
	NextCursor string
	HasMore    bool
}

// ComputePage takes items fetched with at least limit+1 entries when more
// exist, trims them to limit and sets the next cursor from the last kept item.
func ComputePage[T any](items []T, limit int, key Key[T]) Page[T] {
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return Page[T]{Items: items, NextCursor: Encode(createdAt, id), HasMore: true}
}
