package api

import (
	"context"

	"github.com/lysyi3m/webmoniter/app/credential"
	"github.com/lysyi3m/webmoniter/app/scheduler"
)

// JobRunner is the slice of the scheduler the API drives.
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	TriggerNow(ctx context.Context, id string, bypass bool) error
}

var _ JobRunner = (*scheduler.Scheduler)(nil)

// CredentialReader exposes per-platform credential health.
type CredentialReader interface {
	Snapshot() map[string]credential.Status
}

var _ CredentialReader = (*credential.Cache)(nil)

type Handler struct {
	jobs        JobRunner
	credentials CredentialReader
	version     string
}

type jobResponse struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Enabled    bool   `json:"enabled"`
	Running    bool   `json:"running"`
	NextRun    string `json:"next_run,omitempty"`
	LastRun    string `json:"last_run,omitempty"`
	LastStatus string `json:"last_status,omitempty"`
}
