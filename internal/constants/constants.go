package constants

// Session-level advisory lock ids.
const (
	MigrationLock = iota + 1
	PurgeLock
)

// JobNameLockSpace is the first key of the two-key advisory lock taken per job
// name while enqueueing, so name locks never collide with the ids above.
const JobNameLockSpace = 0x43445242

const (
	// MaxTransitionAttempts bounds compare-and-set retries when a status changes underneath us.
	MaxTransitionAttempts = 5

	// ProgressDisplayLimit truncates progress text in list views.
	ProgressDisplayLimit = 200
)
