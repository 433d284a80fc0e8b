package store

import (
	"database/sql"
	"time"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run kinds
const (
	KindDataCopy      = "data-cp"
	KindDataTransfer  = "data-transfer"
	KindImageBuild    = "image-build"
	KindImageTransfer = "image-transfer"
)

// Run records a single copy, transfer, or build invocation
type Run struct {
	ID          int64
	Kind        string // "data-cp", "data-transfer", "image-build", "image-transfer"
	Source      string
	Destination string
	Image       string // image ref for build/transfer runs, empty otherwise
	JobID       string // platform job id when the run went remote
	Status      string // "running", "succeeded", "failed", "cancelled"
	ExitCode    sql.NullInt64
	StartTime   time.Time
	EndTime     sql.NullTime
}
