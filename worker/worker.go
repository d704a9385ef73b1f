// Package worker drains the ingestion queue: claimed webhook payloads are
// validated, routed to per-user case handlers and answered after a short
// coalescing delay so rapid message bursts get one response pass.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"caseflow/domains/caseflow"
	"caseflow/domains/whatsapp"
	"caseflow/infrastructure/queue"
	"caseflow/usecase"
	"caseflow/validations"
)

// Defaults mirroring the queue environment settings.
const (
	DefaultPollBusy      = 200 * time.Millisecond
	DefaultPollIdle      = time.Second
	DefaultResponseDelay = time.Second
	DefaultMaxTokens     = 2048

	// maxResponseRounds bounds tool-call loops within one response job.
	maxResponseRounds = 8
)

// MediaFetcher resolves webhook media ids to their bytes. *whatsapi.Client
// implements it.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, media *whatsapp.Media) (*caseflow.MediaContent, error)
}

// HandlerFactory builds a case handler scoped to one operator/user pair. A
// fresh handler is requested per payload batch and per response job.
type HandlerFactory func(ctx context.Context, operator whatsapp.Metadata, user whatsapp.Contact) (*usecase.CaseHandler, error)

// Config tunes the worker loop.
type Config struct {
	PollBusy      time.Duration
	PollIdle      time.Duration
	ResponseDelay time.Duration
	MaxTokens     int
}

func (c Config) withDefaults() Config {
	if c.PollBusy <= 0 {
		c.PollBusy = DefaultPollBusy
	}
	if c.PollIdle <= 0 {
		c.PollIdle = DefaultPollIdle
	}
	if c.ResponseDelay <= 0 {
		c.ResponseDelay = DefaultResponseDelay
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

type jobKey struct {
	OperatorID string
	UserID     string
}

// job is one pending response pass. New messages for the same user push the
// due time back, coalescing a burst into one pass.
type job struct {
	operator whatsapp.Metadata
	user     whatsapp.Contact
	due      time.Time
}

// Worker is the single consumer of the ingestion queue.
type Worker struct {
	queue      *queue.Store
	media      MediaFetcher
	newHandler HandlerFactory
	cfg        Config

	jobs map[jobKey]*job
	now  func() time.Time
}

// New builds a worker. media may be nil when no media fetching is possible;
// media messages are then ingested by caption only.
func New(q *queue.Store, media MediaFetcher, factory HandlerFactory, cfg Config) *Worker {
	return &Worker{
		queue:      q,
		media:      media,
		newHandler: factory,
		cfg:        cfg.withDefaults(),
		jobs:       make(map[jobKey]*job),
		now:        time.Now,
	}
}

// Run drains the queue until ctx is done. The poll interval tightens while
// rows or pending response jobs exist.
func (w *Worker) Run(ctx context.Context) error {
	logrus.Info("[WORKER] started")
	for {
		busy, err := w.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logrus.Info("[WORKER] stopped")
				return nil
			}
			logrus.WithError(err).Error("[WORKER] tick failed")
		}

		interval := w.cfg.PollIdle
		if busy || len(w.jobs) > 0 {
			interval = w.cfg.PollBusy
		}
		select {
		case <-ctx.Done():
			logrus.Info("[WORKER] stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// Tick claims at most one row and runs the response jobs that came due.
// Returns true when there was work.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	claimed, err := w.queue.ClaimNext()
	if err != nil {
		return false, err
	}
	if claimed != nil {
		if err := w.processPayload(ctx, claimed.Payload); err != nil {
			logrus.WithError(err).Errorf("[WORKER] row %d failed", claimed.RowID)
			if markErr := w.queue.MarkError(claimed.RowID, err.Error()); markErr != nil {
				logrus.WithError(markErr).Errorf("[WORKER] failed to mark row %d", claimed.RowID)
			}
		} else if err := w.queue.MarkDone(claimed.RowID); err != nil {
			logrus.WithError(err).Errorf("[WORKER] failed to finish row %d", claimed.RowID)
		}
	}

	w.runDueJobs(ctx)
	return claimed != nil, nil
}

// PendingJobs reports the number of scheduled response passes.
func (w *Worker) PendingJobs() int { return len(w.jobs) }

// processPayload validates one webhook body and hands every message to the
// matching user's handler, scheduling a coalesced response pass per user.
func (w *Worker) processPayload(ctx context.Context, payload *whatsapp.Payload) error {
	if err := validations.ValidateWebhookPayload(payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	handlers := map[jobKey]*usecase.CaseHandler{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for i := range value.Messages {
				msg := &value.Messages[i]
				user := contactFor(value.Contacts, msg.From)
				key := jobKey{OperatorID: value.Metadata.PhoneNumberID, UserID: user.WaID}

				handler, ok := handlers[key]
				if !ok {
					var err error
					handler, err = w.newHandler(ctx, value.Metadata, user)
					if err != nil {
						return fmt.Errorf("handler for %s/%s: %w", key.OperatorID, key.UserID, err)
					}
					handlers[key] = handler
				}

				due, err := handler.ProcessMessage(ctx, msg, w.fetchMedia(ctx, msg))
				if err != nil {
					return fmt.Errorf("message %s: %w", msg.ID, err)
				}
				if due {
					w.schedule(key, value.Metadata, user)
				}
			}
		}
	}
	return nil
}

// fetchMedia downloads the message's media when possible. Failures degrade
// to caption-only ingestion.
func (w *Worker) fetchMedia(ctx context.Context, msg *whatsapp.Message) *caseflow.MediaContent {
	media := msg.MediaData()
	if media == nil || w.media == nil {
		return nil
	}
	content, err := w.media.FetchMedia(ctx, media)
	if err != nil {
		logrus.WithError(err).Warnf("[WORKER] media fetch for %s failed", msg.ID)
		return nil
	}
	return content
}

func (w *Worker) schedule(key jobKey, operator whatsapp.Metadata, user whatsapp.Contact) {
	w.jobs[key] = &job{
		operator: operator,
		user:     user,
		due:      w.now().Add(w.cfg.ResponseDelay),
	}
}

// runDueJobs answers every user whose coalescing window elapsed. A fresh
// handler sees all messages ingested while the job waited.
func (w *Worker) runDueJobs(ctx context.Context) {
	now := w.now()
	for key, j := range w.jobs {
		if j.due.After(now) {
			continue
		}
		delete(w.jobs, key)

		handler, err := w.newHandler(ctx, j.operator, j.user)
		if err != nil {
			logrus.WithError(err).Errorf("[WORKER] response handler for %s/%s failed", key.OperatorID, key.UserID)
			continue
		}
		for round := 0; round < maxResponseRounds; round++ {
			again, err := handler.GenerateResponse(ctx, w.cfg.MaxTokens)
			if err != nil {
				logrus.WithError(err).Errorf("[WORKER] response for %s/%s failed", key.OperatorID, key.UserID)
				break
			}
			if !again {
				break
			}
		}
	}
}

// contactFor matches a message sender against the webhook contacts.
func contactFor(contacts []whatsapp.Contact, from string) whatsapp.Contact {
	for _, c := range contacts {
		if c.WaID == from {
			return c
		}
	}
	return whatsapp.Contact{WaID: from}
}
