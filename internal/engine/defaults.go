package engine

import "time"

// DefaultCheckTimeout is the max time a single check gets to complete.
// It sits above DefaultQueryTimeout so VCS-backed checks can degrade to a
// warning themselves before the dispatcher gives up on them.
const DefaultCheckTimeout = 3 * time.Second

// DefaultQueryTimeout bounds each external version-control query.
const DefaultQueryTimeout = 2 * time.Second

// MaxQueryTimeout is the upper bound accepted from configuration.
const MaxQueryTimeout = 2 * time.Second
