package container

import "time"

// RefreshedEvent is published once a Refresh has completed successfully.
type RefreshedEvent struct {
	ContainerID string
	When        time.Time
}

// ClosedEvent is published at the start of Close, before singletons are
// destroyed. Delivery failures are logged, never raised.
type ClosedEvent struct {
	ContainerID string
	When        time.Time
}
