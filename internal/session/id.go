package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID builds a session identifier from the creation timestamp plus a
// random suffix. The timestamp keeps ids roughly sortable; the suffix
// avoids collisions between sessions created in the same millisecond.
func NewID() string {
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
