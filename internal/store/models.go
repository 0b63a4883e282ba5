package store

import "time"

// TaskRecord is one automation task as persisted.
type TaskRecord struct {
	ID          string
	Instruction string
	Status      string
	Reason      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Replans     int
}

// PlanRecord is one accepted plan as persisted, serialized whole.
type PlanRecord struct {
	ID        int64
	TaskID    string
	Replan    bool
	PlanJSON  string
	CreatedAt time.Time
}

// StepRecord is one executed plan step as persisted.
type StepRecord struct {
	ID         int64
	TaskID     string
	StepIndex  int
	Action     string
	Target     string
	Success    bool
	Detail     string
	Attempts   int
	URLAfter   string
	RecordedAt time.Time
}
