// Package id defines the identifier type for notifications.
//
// IDs are 12-byte ObjectIDs rendered as 24 lowercase hex characters, the
// same textual form the record store has always exposed to clients. The
// rest of the engine only sees the opaque ID value and the Parse contract,
// so stores with other native key types can still be plugged in.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrInvalid is returned by Parse for strings that are not a valid ID.
var ErrInvalid = errors.New("id: invalid format")

// ID identifies a notification.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	oid bson.ObjectID
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new unique ID.
func New() ID {
	return ID{oid: bson.NewObjectID()}
}

// FromObjectID wraps a BSON ObjectID.
func FromObjectID(oid bson.ObjectID) ID {
	return ID{oid: oid}
}

// Parse parses a 24-character hex string into an ID. Any other input,
// including the empty string, yields an error wrapping ErrInvalid.
func Parse(s string) (ID, error) {
	if len(s) != 24 {
		return Nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return ID{oid: oid}, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// String returns the hex representation, or "" for the Nil ID.
func (i ID) String() string {
	if i.IsNil() {
		return ""
	}

	return i.oid.Hex()
}

// ObjectID returns the underlying BSON ObjectID.
func (i ID) ObjectID() bson.ObjectID { return i.oid }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return i.oid.IsZero()
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
func (i ID) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil

		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
