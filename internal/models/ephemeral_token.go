package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Claims is the identity payload returned by the provider's userinfo
// endpoint. It is stored verbatim and never interpreted; numbers are kept as
// json.Number so large integers survive a round trip.
type Claims map[string]any

// DecodeClaims parses a JSON object into Claims without converting numbers
// to float64.
func DecodeClaims(data []byte) (Claims, error) {
	var out Claims
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a shallow copy of the claims.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

func (c Claims) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal claims: %w", err)
	}
	return string(b), nil
}

func (c *Claims) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported claims column type %T", src)
	}

	out, err := DecodeClaims(data)
	if err != nil {
		return fmt.Errorf("unmarshal claims: %w", err)
	}
	*c = out
	return nil
}

func (Claims) GormDataType() string {
	return "json"
}

func (Claims) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}

// EphemeralToken is a single-use credential bound to a snapshot of the
// holder's claims.
type EphemeralToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Value     string    `gorm:"size:128;not null;uniqueIndex" json:"-"`
	Claims    Claims    `gorm:"not null" json:"claims"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EphemeralToken) TableName() string {
	return "ephemeral_token"
}

// Expired reports whether the token is past its expiry at now.
func (t *EphemeralToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
