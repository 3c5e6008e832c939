// Package lane runs the relay's execution contexts. A lane is one goroutine
// draining a FIFO of tasks; every connection is pinned to one lane, and all
// work that touches a connection's state or write path is posted to that lane.
// Posting is the only way to reach another connection from a foreign lane.
package lane

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/queue"
)

const initialQueueCapacity = 64

// Lane is a single-goroutine task loop. The active counter is owned by the
// Balancer that created the lane.
type Lane struct {
	id     int
	tasks  *queue.Queue[func()]
	logger logger.Logger

	active int
}

func newLane(id int, l logger.Logger) *Lane {
	return &Lane{
		id:     id,
		tasks:  queue.New[func()](initialQueueCapacity),
		logger: l.With(logger.Field{Key: "lane", Value: id}),
	}
}

// ID returns the lane's index, starting at 0.
func (l *Lane) ID() int {
	return l.id
}

// Post schedules task to run on the lane after every task posted before it.
// It never blocks. It reports false, dropping task, once the lane is stopping.
//
// Parameters:
//   - task: The function to run on the lane goroutine
//
// Returns:
//   - true if the task was queued
func (l *Lane) Post(task func()) bool {
	if task == nil {
		return false
	}

	return l.tasks.Push(task)
}

// Pending returns the number of queued tasks.
func (l *Lane) Pending() int {
	return l.tasks.Len()
}

// run executes tasks until the queue is closed and drained.
func (l *Lane) run() error {
	l.logger.Debug("lane started")
	for {
		task, ok := l.tasks.Pop()
		if !ok {
			l.logger.Debug("lane drained")
			return nil
		}

		l.exec(task)
	}
}

func (l *Lane) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lane task panicked", logger.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()

	task()
}

func (l *Lane) stop() {
	l.tasks.Close()
}

// IdealCount returns the number of logical CPUs, at least 1.
func IdealCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}

	if n < 1 {
		n = 1
	}

	return n
}
