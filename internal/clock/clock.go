// Package clock holds the injected capabilities the original design kept as
// global singletons: timestamping and order id generation. Passing them
// explicitly keeps the matching engine and workers deterministic under test.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies timestamps for fills, matches, and snapshots.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// OrderIDGenerator mints unique order ids.
type OrderIDGenerator interface {
	NextID() string
}

// UUIDOrderIDGenerator mints random UUID order ids.
type UUIDOrderIDGenerator struct{}

func (UUIDOrderIDGenerator) NextID() string { return uuid.NewString() }
