package voice

import (
	"context"

	"go.uber.org/zap"

	"curiousminds/internal/logging"
	"curiousminds/internal/models"
	"curiousminds/internal/worker"
)

type saver interface {
	Save(ctx context.Context, comm *models.NeuralComm) error
}

type submitter interface {
	Submit(job worker.Job) error
}

// Inbox hands voice messages from the widget to the worker pool. Saving never
// blocks the caller; failures are only logged.
type Inbox struct {
	store  saver
	jobs   submitter
	logger *zap.Logger
}

func NewInbox(store saver, jobs submitter, logger *zap.Logger) *Inbox {
	return &Inbox{store: store, jobs: jobs, logger: logging.OrNop(logger).Named("inbox")}
}

func (i *Inbox) SaveVoiceMessage(comm *models.NeuralComm) {
	if comm == nil {
		return
	}
	err := i.jobs.Submit(worker.Job{
		Key:  comm.UserID,
		Name: "save_voice_message",
		Run: func(ctx context.Context) error {
			return i.store.Save(ctx, comm)
		},
	})
	if err != nil {
		i.logger.Warn("voice message dropped",
			zap.String("comm_id", comm.ID),
			zap.String("user_id", comm.UserID),
			zap.Error(err),
		)
	}
}
