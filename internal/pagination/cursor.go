// Package pagination provides opaque cursor pagination for the alert
// and assessment history endpoints. Lists are served newest first, so
// a cursor marks the oldest item already seen and the next page holds
// strictly older items.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errInvalidCursor = errors.New("invalid cursor")

// Cursor represents a position in a paginated result set.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Admits reports whether an item belongs on pages after the cursor in
// newest-first order. Ties on timestamp fall back to ID ordering so an
// item never straddles two pages.
func (c *Cursor) Admits(createdAt time.Time, id string) bool {
	if createdAt.Before(c.CreatedAt) {
		return true
	}
	return createdAt.Equal(c.CreatedAt) && id < c.ID
}

// Encode packs a position into an opaque URL-safe cursor.
func Encode(createdAt time.Time, id string) string {
	return base64.URLEncoding.EncodeToString(fmt.Appendf(nil, "%d|%s", createdAt.UnixNano(), id))
}

// Decode unpacks a cursor produced by Encode. Empty input means no
// cursor and yields nil without error.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errInvalidCursor
	}
	nanosPart, id, found := strings.Cut(string(raw), "|")
	if !found {
		return nil, errInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, errInvalidCursor
	}
	return &Cursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		ID:        id,
	}, nil
}

// ClampLimit normalizes a client-supplied page size to [1, max],
// substituting fallback when the client sent nothing usable.
func ClampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// ComputePage trims a limit+1 fetch down to one page. When the extra
// row is present the page is full, and the cursor derived from the last
// visible item points at the start of the next page.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	page := items[:limit]
	createdAt, id := key(page[len(page)-1])
	return page, Encode(createdAt, id), true
}
