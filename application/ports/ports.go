// Package ports declares the collaborators the application layer drives.
// Implementations live in infrastructure.
package ports

import (
	"context"

	"github.com/Steake/GodelOS-sub005/domain/imports"
	"github.com/Steake/GodelOS-sub005/domain/messages"
)

// Resyncer asks the backend for a snapshot-full of one topic
type Resyncer interface {
	RequestResync(topic string, lastSeq int64) error
}

// ProgressObserver receives job-progress messages pushed over the stream
type ProgressObserver interface {
	Observe(progress messages.JobProgressPayload)
}

// ImportAPI is the remote knowledge import service
type ImportAPI interface {
	// Submit starts an import and returns its initial status
	Submit(ctx context.Context, source imports.Source) (imports.Progress, error)

	// Progress fetches the current status of a job
	Progress(ctx context.Context, id string) (imports.Progress, error)

	// Cancel asks the server to stop a job
	Cancel(ctx context.Context, id string) error
}
