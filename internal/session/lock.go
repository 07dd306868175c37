package session

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Retry/backoff constants for acquiring the session's exclusive writer
// lock. Named and shaped after internal/store/session.go's
// SQLiteBusyMaxRetries/SQLiteBusyBackoffStepMs/SQLiteBusyMaxBackoff, which
// retry on SQLITE_BUSY; here the contended resource is flock(2) on the
// session's lock file instead of a database handle.
const (
	LockMaxRetries    = 10
	LockBackoffStepMs = 50
	LockMaxBackoff    = time.Second
)

// fileLock wraps an exclusive advisory flock on a session's companion
// ".lock" file. Only one writer may hold it at a time; readers (List,
// summarize) never take it, since they only read committed JSONL lines.
type fileLock struct {
	file *os.File
}

func lockPath(logPath string) string {
	return logPath + ".lock"
}

// acquireLock takes the exclusive advisory lock for the session at
// logPath, retrying with backoff while another process holds it.
func acquireLock(logPath string) (*fileLock, error) {
	f, err := os.OpenFile(lockPath(logPath), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("session: open lock file: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= LockMaxRetries; attempt++ {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{file: f}, nil
		}
		lastErr = err
		if err != unix.EWOULDBLOCK || attempt == LockMaxRetries {
			break
		}
		backoff := time.Duration((attempt+1)*LockBackoffStepMs) * time.Millisecond
		if backoff > LockMaxBackoff {
			backoff = LockMaxBackoff
		}
		time.Sleep(backoff)
	}
	f.Close()
	return nil, fmt.Errorf("session: another process holds this session open: %w", lastErr)
}

func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
