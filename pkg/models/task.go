package models

import "github.com/google/uuid"

// TaskMeta carries the background-job bookkeeping shared by all tasked
// entities. TaskUUID is uuid.Nil until a job has been submitted; TaskDone
// flips to true exactly once, when the job terminates.
type TaskMeta struct {
	TaskUUID uuid.UUID `json:"-"`
	TaskDone bool      `json:"-"`
}

// TaskHandle returns the stored job handle.
func (t *TaskMeta) TaskHandle() uuid.UUID { return t.TaskUUID }

// SetTask records a freshly submitted job handle and resets the done flag.
func (t *TaskMeta) SetTask(handle uuid.UUID) {
	t.TaskUUID = handle
	t.TaskDone = false
}

// HasTask reports whether a job has ever been submitted for this entity.
func (t *TaskMeta) HasTask() bool { return t.TaskUUID != uuid.Nil }

// TaskFinished reports whether the submitted job has terminated.
func (t *TaskMeta) TaskFinished() bool { return t.TaskDone }

// Tasked is implemented by entities carrying background-job bookkeeping.
type Tasked interface {
	Entity
	TaskHandle() uuid.UUID
	TaskFinished() bool
}
