package core

import (
	"strings"

	"github.com/google/uuid"
)

const debateIDLength = 12

// NewDebateID returns a short lowercase hex id taken from a random UUID.
func NewDebateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:debateIDLength]
}
