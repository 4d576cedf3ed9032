// Package tasks holds the concrete background jobs wired into the runner.
package tasks

import (
	"context"
	"time"
)

// CycleRunner is the slice of the poll scheduler the task needs.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// MailPollTask runs one poll cycle per tick.
type MailPollTask struct {
	scheduler CycleRunner
	schedule  string
	timeout   time.Duration
}

// NewMailPollTask builds the poll task. An empty schedule defaults to once
// a minute; a non-positive timeout defaults to ten minutes.
func NewMailPollTask(scheduler CycleRunner, schedule string, timeout time.Duration) *MailPollTask {
	if schedule == "" {
		schedule = "0 * * * * *"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &MailPollTask{scheduler: scheduler, schedule: schedule, timeout: timeout}
}

func (t *MailPollTask) Name() string { return "mail_poll" }

func (t *MailPollTask) Schedule() string { return t.schedule }

func (t *MailPollTask) Timeout() time.Duration { return t.timeout }

// Run executes one poll cycle.
func (t *MailPollTask) Run(ctx context.Context) error {
	return t.scheduler.RunCycle(ctx)
}
