package tasks

import "sync"

/*
taskLocks hands out one mutex per task id so completion signals for the
same task are linearized while unrelated tasks never contend. Entries
are reference-counted and removed once the last holder releases, so the
map does not grow with the total number of tasks ever touched.
*/
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*taskLock)}
}

func (l *taskLocks) acquire(id string) *taskLock {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &taskLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (l *taskLocks) release(id string, entry *taskLock) {
	entry.mu.Unlock()

	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}
