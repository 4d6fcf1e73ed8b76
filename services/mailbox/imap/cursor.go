package imap

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

type folderCursor struct {
	UIDValidity uint32 `json:"uidValidity"`
	LastUID     uint32 `json:"lastUid"`
}

// cursor is the continuation token of an IMAP account, keyed by folder name.
type cursor map[string]folderCursor

func (c cursor) encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal imap cursor")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "imap cursor is not base64")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "imap cursor is not valid json")
	}
	if c == nil {
		return nil, errors.New("imap cursor is empty")
	}
	return c, nil
}
