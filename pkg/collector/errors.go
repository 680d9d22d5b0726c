package collector

import (
	"errors"
	"fmt"
)

var (
	errNotConnected       = errors.New("not connected")
	ErrUnsupportedBackend = errors.New("unsupported database type")
)

// ConnectionError connect() 阶段失败，返回给 GetMetrics 的调用方
type ConnectionError struct {
	Collector string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Collector, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PollCycleError 必需命令失败，本周期中止且不再重新调度
type PollCycleError struct {
	Collector string
	Command   string
	Err       error
}

func (e *PollCycleError) Error() string {
	return fmt.Sprintf("%s: poll cycle: command %s: %v", e.Collector, e.Command, e.Err)
}

func (e *PollCycleError) Unwrap() error { return e.Err }

// AuxiliaryMetricError best-effort 命令失败，周期继续
type AuxiliaryMetricError struct {
	Collector string
	Command   string
	Err       error
}

func (e *AuxiliaryMetricError) Error() string {
	return fmt.Sprintf("%s: auxiliary metric %s unavailable: %v", e.Collector, e.Command, e.Err)
}

func (e *AuxiliaryMetricError) Unwrap() error { return e.Err }
