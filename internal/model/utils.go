package model

import (
	"time"

	"github.com/google/uuid"
)

const ServiceName = "media-jobs"

func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}

	return id.String()
}

// Now returns the wall clock truncated to microseconds, the finest resolution
// both storage backends keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
