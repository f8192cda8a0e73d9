package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor" json:"cursor"`
	Limit  int    `form:"limit,default=10" json:"limit" validate:"gte=0,lte=250"`
}

// Normalized returns the limit clamped to [1, MaxLimit].
func (p Pagination) Normalized() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}

type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func NewCursor(at time.Time, id string) Cursor {
	return Cursor{CreatedAt: at.UTC().Format(time.RFC3339Nano), ID: id}
}

// Time parses the cursor timestamp; ok is false for an empty cursor.
func (c Cursor) Time() (time.Time, bool) {
	if c.CreatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Paginate trims a limit+1 result set and builds the page info from the last
// item kept.
func Paginate[T any](data []*T, limit int, cursorOf func(*T) Cursor) ([]*T, PageInfo) {
	if len(data) <= limit {
		return data, PageInfo{HasMore: false}
	}

	data = data[:limit]
	next, _ := EncodeCursor(cursorOf(data[len(data)-1]))

	return data, PageInfo{
		HasMore:    true,
		NextCursor: next,
	}
}
