package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// MediaVariant carries the platform specific renditions of an asset.
type MediaVariant struct {
	IOSURL    string `json:"ios_url,omitempty"`
	NormalURL string `json:"normal_url,omitempty"`
}

// Thumbnail is a preview image with the same variant pair as the asset it belongs to.
type Thumbnail struct {
	URL     string        `json:"url"`
	Variant *MediaVariant `json:"variant,omitempty"`
}

// MediaRef describes an uploaded asset. It is stored as JSONB.
type MediaRef struct {
	URL       string        `json:"url"`
	Variant   *MediaVariant `json:"variant,omitempty"`
	Thumbnail *Thumbnail    `json:"thumbnail,omitempty"`
}

// Value encodes the ref as JSON text; lib/pq would send []byte as bytea.
func (m MediaRef) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MediaRef) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("media ref: unsupported scan type")
	}
}

// NullMediaRef is a MediaRef column that may be NULL.
type NullMediaRef struct {
	MediaRef *MediaRef
}

func (n NullMediaRef) Value() (driver.Value, error) {
	if n.MediaRef == nil {
		return nil, nil
	}
	return n.MediaRef.Value()
}

func (n *NullMediaRef) Scan(src any) error {
	if src == nil {
		n.MediaRef = nil
		return nil
	}
	var ref MediaRef
	if err := ref.Scan(src); err != nil {
		return err
	}
	n.MediaRef = &ref
	return nil
}

func (n NullMediaRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.MediaRef)
}

func (n *NullMediaRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.MediaRef = nil
		return nil
	}
	var ref MediaRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	n.MediaRef = &ref
	return nil
}
