package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString accepts a JSON string, number or boolean and always emits a
// string. Xtream panels disagree on the types of ids and labels; false reads
// as empty, since panels use it for a missing icon.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch {
	case bytes.Equal(data, []byte("false")):
		*f = ""
		return nil
	case bytes.Equal(data, []byte("true")):
		*f = "true"
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Int returns the numeric value or 0.
func (f FlexString) Int() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName FlexString `json:"category_name"`
	ParentID     FlexString `json:"parent_id"`
}

type Stream struct {
	StreamID   FlexString `json:"stream_id"`
	Name       FlexString `json:"name"`
	StreamIcon FlexString `json:"stream_icon,omitempty"`
}

// AccountInfo is the liveness summary of an upstream account.
type AccountInfo struct {
	Status    AccountStatus `json:"status"`
	ExpiresAt string        `json:"expiresAt,omitempty"`
	ServerURL string        `json:"-"`
}

type ListCategoriesResult struct {
	Success    bool       `json:"success"`
	Categories []Category `json:"categories"`
	ServerURL  string     `json:"serverUrl"`
}

type ListStreamsResult struct {
	Streams   []Stream `json:"streams"`
	ServerURL string   `json:"serverUrl"`
}

// UpstreamCredentials identifies an account on an Xtream panel.
type UpstreamCredentials struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}
