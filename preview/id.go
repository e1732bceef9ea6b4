package preview

import (
	"github.com/oklog/ulid/v2"
)

// IdGenerator produces opaque, collision-free string ids.
// Correlation ids and new element ids both come from here so tests
// can inject a deterministic generator.
type IdGenerator func() string

func NewId() string {
	return ulid.Make().String()
}
