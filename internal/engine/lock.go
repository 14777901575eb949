package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"

	"github.com/humanitec/oidc-role-manager/internal/message"
)

var ErrStackLocked = errors.New("stack is locked by another process")

// Locker serializes engine operations on a stack across processes.
type Locker struct {
	locker  lockgate.Locker
	timeout time.Duration
}

func NewLocker(dir string, timeout time.Duration) (*Locker, error) {
	locker, err := file_locker.NewFileLocker(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot setup lock dir %s: %w", dir, err)
	}
	return &Locker{locker: locker, timeout: timeout}, nil
}

// Lock takes the exclusive lock of a stack. The returned func releases it.
func (l *Locker) Lock(stack Stack) (func(), error) {
	return l.acquire(stack, false)
}

// RLock takes a shared lock of a stack, held by readers while no writer runs.
func (l *Locker) RLock(stack Stack) (func(), error) {
	return l.acquire(stack, true)
}

func (l *Locker) acquire(stack Stack, shared bool) (func(), error) {
	acquired, lock, err := l.locker.Acquire(stack.Name, lockgate.AcquireOptions{Shared: shared, Timeout: l.timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStackLocked, stack.Name, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrStackLocked, stack.Name)
	}

	return func() {
		if err := l.locker.Release(lock); err != nil {
			message.Warning("Failed to release lock of stack %s: %v", stack.Name, err)
		}
	}, nil
}
