package transaction

import (
	"sync"
	"time"
)

// ErrorState keeps the most recent failure for diagnostic display. It holds
// a single record which every new failure overwrites.
type ErrorState struct {
	mx     sync.RWMutex
	record FailureRecord
	at     time.Time
	set    bool
}

// Record stores the failure carried by err and reports whether there was one.
// Errors that are not a *Failure are ignored.
func (e *ErrorState) Record(err error) bool {
	rec, ok := AsFailure(err)
	if !ok {
		return false
	}
	e.mx.Lock()
	e.record = rec
	e.at = time.Now()
	e.set = true
	e.mx.Unlock()
	return true
}

// Last returns the latest failure, if any was recorded.
func (e *ErrorState) Last() (FailureRecord, time.Time, bool) {
	e.mx.RLock()
	defer e.mx.RUnlock()
	return e.record, e.at, e.set
}
