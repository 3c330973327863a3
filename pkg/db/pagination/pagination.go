package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=20"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Size clamps the requested page size into [1, 100].
func (p Pagination) Size() int {
	if p.PageSize <= 0 {
		return defaultPageSize
	}
	if p.PageSize > maxPageSize {
		return maxPageSize
	}
	return p.PageSize
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// BuildCursorPageInfo trims the look-ahead row fetched by ApplyPagination and
// returns the remaining items with the token for the next page.
func BuildCursorPageInfo[T any](data []*T, limit int, extractID func(*T) string) ([]*T, *PageInfo) {
	if len(data) == 0 {
		return data, &PageInfo{HasMore: false}
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	if len(data) <= limit {
		return data, &PageInfo{HasMore: false}
	}

	data = data[:limit]
	token, err := EncodeCursor(Cursor{ID: extractID(data[len(data)-1])})
	if err != nil {
		return data, &PageInfo{HasMore: false}
	}
	return data, &PageInfo{HasMore: true, NextPageToken: token}
}
