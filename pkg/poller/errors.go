package poller

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInterval = errors.New("poller interval must be positive")
	ErrPollerNotFound  = errors.New("poller not found")
	ErrPollerStopped   = errors.New("poller stopped")
)

// DuplicatePollerError 同一个 id 已存在活跃的 Poller，属于编程/配置错误
type DuplicatePollerError struct {
	ID string
}

func (e *DuplicatePollerError) Error() string {
	return fmt.Sprintf("poller %q is already registered", e.ID)
}
