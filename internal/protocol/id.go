package protocol

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns a correlation id made of the current time in
// milliseconds and a random UUID, e.g. "1733481900123-3f2a9c1e-...".
func NewRequestID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()
}
