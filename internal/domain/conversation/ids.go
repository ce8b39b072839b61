package conversation

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID identifies conversations and messages. Values are 24 hex characters.
type ID string

// NewID allocates a fresh identifier.
func NewID() ID {
	return ID(primitive.NewObjectID().Hex())
}

// ParseID validates the identifier format.
func ParseID(raw string) (ID, error) {
	raw = strings.TrimSpace(raw)
	if !primitive.IsValidObjectID(raw) {
		return "", ErrMalformedIdentifier
	}
	return ID(strings.ToLower(raw)), nil
}

// ValidID reports whether raw is a well-formed identifier.
func ValidID(raw string) bool {
	return primitive.IsValidObjectID(strings.TrimSpace(raw))
}

func (id ID) String() string {
	return string(id)
}
