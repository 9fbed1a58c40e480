package abuse

import (
	"fmt"
)

// PersistenceError reports a storage failure during an analysis. The
// assessment it accompanies is still valid and was still delivered to the
// cache and to alerting; callers must not treat the analysis as failed.
type PersistenceError struct {
	Op  string // store operation that failed
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("abuse: %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError reports an alert delivery failure. The assessment and
// any recorded alert are unaffected; nothing is rolled back.
type NotificationError struct {
	Channel string // delivery channel that failed
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("abuse: notify %s failed: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
