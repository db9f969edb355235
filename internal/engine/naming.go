package engine

import (
	"strings"

	"github.com/google/uuid"
)

// NamingPrefix starts every naming convention; orphan cleanup only touches
// objects carrying it.
const NamingPrefix = "tabledep_"

// NewNamingConvention returns a fresh identifier for one set of server-side
// objects. It is a valid lower-case identifier of 41 characters.
func NewNamingConvention() string {
	return NamingPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
