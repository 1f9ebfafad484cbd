package models

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle position of a ScrapeTask within one run.
type TaskState string

const (
	TaskPending       TaskState = "PENDING"
	TaskFetching      TaskState = "FETCHING"
	TaskRetryPending  TaskState = "RETRY_PENDING"
	TaskBreakerOpen   TaskState = "BREAKER_OPEN"
	TaskParsed        TaskState = "PARSED"
	TaskClassified    TaskState = "CLASSIFIED"
	TaskImageResolved TaskState = "IMAGE_RESOLVED"
	TaskStored        TaskState = "STORED"
	TaskFailed        TaskState = "FAILED"
)

var taskTransitions = map[TaskState][]TaskState{
	TaskPending:       {TaskFetching, TaskBreakerOpen, TaskFailed},
	TaskFetching:      {TaskParsed, TaskRetryPending, TaskBreakerOpen, TaskFailed},
	TaskRetryPending:  {TaskFetching, TaskFailed},
	TaskParsed:        {TaskClassified, TaskFailed},
	TaskClassified:    {TaskImageResolved, TaskFailed},
	TaskImageResolved: {TaskStored, TaskFailed},
}

// Terminal reports whether no further transition is possible within the run.
func (s TaskState) Terminal() bool {
	return s == TaskStored || s == TaskBreakerOpen || s == TaskFailed
}

// Task priorities used by the scheduler and the on-demand rescrape path.
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 100
)

// ScrapeTask is an ephemeral unit of work. It is never persisted; a failed
// task is reselected on the next scheduling pass.
type ScrapeTask struct {
	URL           string
	Platform      Platform
	ListingID     uint
	Priority      int
	Attempts      int
	State         TaskState
	LastErrorKind string
}

// NewScrapeTask returns a task in the PENDING state.
func NewScrapeTask(url string, platform Platform, priority int) *ScrapeTask {
	return &ScrapeTask{URL: url, Platform: platform, Priority: priority, State: TaskPending}
}

// Transition moves the task to next, rejecting moves the lifecycle does not allow.
func (t *ScrapeTask) Transition(next TaskState) error {
	if t.State == "" {
		t.State = TaskPending
	}
	for _, allowed := range taskTransitions[t.State] {
		if allowed == next {
			t.State = next
			return nil
		}
	}
	return fmt.Errorf("illegal task transition %s -> %s", t.State, next)
}

// Fail records err on the task and moves it to the matching terminal state.
func (t *ScrapeTask) Fail(err error) {
	t.LastErrorKind = ErrorKind(err)
	if IsBreakerOpen(err) {
		t.State = TaskBreakerOpen
		return
	}
	t.State = TaskFailed
}

// RawPage is the outcome of one successful fetch.
type RawPage struct {
	URL        string
	FinalURL   string
	Platform   Platform
	StatusCode int
	Body       []byte
	Strategy   string
	Attempts   int
	FetchedAt  time.Time
}
