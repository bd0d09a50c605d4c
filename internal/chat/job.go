package chat

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/fieldworks/chatline/internal/store"
)

// JobStatus tracks an async turn through the queue.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// TurnJob records one queued assistant reply. The user message is already
// committed when the job is created, so a crashed worker never loses input;
// re-delivery just regenerates the reply.
type TurnJob struct {
	JobID           string    `json:"job_id"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          JobStatus `json:"status"`
	ResultMessageID string    `json:"result_message_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       int64     `json:"created_at"`
	UpdatedAt       int64     `json:"updated_at"`
}

// SubmitTurnAsync commits the user message and records a queued job. The
// caller publishes the returned job id to the queue; the worker finishes the
// turn with CompleteTurnJob.
func (s *Service) SubmitTurnAsync(ctx context.Context, sessionID, userID, userEmail, text string) (*Session, *TurnJob, error) {
	sess, err := s.beginTurn(ctx, sessionID, userID, userEmail, text)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.sequencer.Append(ctx, Draft{
		SessionID: sess.SessionID, UserID: userID, Type: MessageTypeUser, Text: text,
	}); err != nil {
		return sess, nil, &TurnError{SessionID: sess.SessionID, Err: err}
	}

	now := nowMillis()
	job := &TurnJob{
		JobID:     ulid.Make().String(),
		SessionID: sess.SessionID,
		UserID:    userID,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := store.Encode(job)
	if err != nil {
		return sess, nil, err
	}
	if err := s.sequencer.store.Put(ctx, CollectionJobs, job.JobID, doc, store.ModeCreate); err != nil {
		return sess, nil, &TurnError{SessionID: sess.SessionID, Err: mapStoreErr(err)}
	}
	return sess, job, nil
}

// GetJob returns job status, owner-only.
func (s *Service) GetJob(ctx context.Context, jobID, requesterID string) (*TurnJob, error) {
	job, err := s.readJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != requesterID {
		return nil, ErrForbidden
	}
	return job, nil
}

// CompleteTurnJob is the worker half: generate the assistant reply for the
// job's session and mark the job accordingly.
func (s *Service) CompleteTurnJob(ctx context.Context, jobID string) error {
	job, err := s.readJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == JobSucceeded {
		return nil // re-delivered after success; nothing to do
	}
	if err := s.markJob(ctx, jobID, store.Doc{"status": string(JobRunning)}); err != nil {
		return err
	}

	sess, err := s.registry.Get(ctx, job.SessionID)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	reply, err := s.generateReply(ctx, sess)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	asst, err := s.sequencer.Append(ctx, Draft{
		SessionID: sess.SessionID, UserID: sess.UserID, Type: MessageTypeAssistant, Text: reply,
	})
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	return s.markJob(ctx, jobID, store.Doc{
		"status":            string(JobSucceeded),
		"result_message_id": asst.MessageID,
		"error":             "",
	})
}

func (s *Service) readJob(ctx context.Context, jobID string) (*TurnJob, error) {
	doc, err := s.sequencer.store.Get(ctx, CollectionJobs, jobID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var job TurnJob
	if err := store.Decode(doc, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) markJob(ctx context.Context, jobID string, fields store.Doc) error {
	fields["updated_at"] = nowMillis()
	return mapStoreErr(s.sequencer.store.Put(ctx, CollectionJobs, jobID, fields, store.ModeMerge))
}

func (s *Service) failJob(ctx context.Context, jobID string, cause error) error {
	if err := s.markJob(ctx, jobID, store.Doc{
		"status": string(JobFailed),
		"error":  cause.Error(),
	}); err != nil {
		s.log.Error("mark job failed", "job_id", jobID, "err", err)
	}
	return cause
}
