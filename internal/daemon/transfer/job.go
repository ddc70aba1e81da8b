package transfer

import (
	"fmt"
	"time"
)

// Phase is a transfer job's position in the download → extract pipeline.
type Phase string

// Job phases.
const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseExtracting  Phase = "extracting"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
)

// Active reports whether the job is still doing work.
func (p Phase) Active() bool {
	return p == PhaseDownloading || p == PhaseExtracting
}

// Request starts a transfer job.
type Request struct {
	Source      string
	DownloadDir string
	ExtractDir  string
}

// Job is a snapshot of a transfer job.
type Job struct {
	ID          string
	Generation  uint64
	Source      string
	DownloadDir string
	ExtractDir  string
	ArchivePath string
	Phase       Phase
	Progress    float64
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// TransferError reports the phase a job failed in.
type TransferError struct {
	Phase Phase
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
