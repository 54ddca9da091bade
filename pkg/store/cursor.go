package store

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// pageCursor is the opaque pagination token handed back as
// next_cursor and round-tripped by the caller on the following
// request. It pairs the ordering field's value with the document id
// so ties on the ordering field (two documents with the same
// created_at) still produce a strict total order.
type pageCursor struct {
	OrderValue time.Time `json:"orderValue"`
	ID         string    `json:"id"`
}

func encodeCursor(orderValue time.Time, id string) string {
	data, err := json.Marshal(pageCursor{OrderValue: orderValue, ID: id})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) (pageCursor, error) {
	if cursor == "" {
		return pageCursor{}, nil
	}
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return pageCursor{}, err
	}
	var c pageCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return pageCursor{}, err
	}
	return c, nil
}
