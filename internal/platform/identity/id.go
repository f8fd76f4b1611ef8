package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRunID returns a lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

func NewCorrelationID() string {
	return uuid.NewString()
}

// RunIDTime extracts the creation time encoded in a run id. ok is false for
// ids not produced by NewRunID.
func RunIDTime(id string) (ms uint64, ok bool) {
	parsed, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSpace(id)))
	if err != nil {
		return 0, false
	}
	return parsed.Time(), true
}
