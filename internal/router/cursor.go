package router

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ErrInvalidCursor is returned when a pagination token cannot be decoded.
// Corrupted tokens are an input error, never a panic.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// Cursor identifies the last row of a page in the three-key sort order.
// It is handed to clients as an opaque token and never persisted
// server-side. The short JSON field names keep the encoded token compact.
type Cursor struct {
	Date   string `json:"d"`
	ID     int64  `json:"id"`
	Source string `json:"src"`
}

// Encode serialises the cursor as URL-safe base64 JSON.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode. Round-trips exactly:
// DecodeCursor(c.Encode()) == c for every cursor value.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	if c.Date == "" || (c.Source != "archive" && c.Source != "live") {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}
