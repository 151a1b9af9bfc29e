package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/models"
)

const (
	TaskIndexJob = "job:index"
	TaskDrainOCR = "ocr:drain"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type IndexJobPayload struct {
	JobID string `json:"job_id"`
}

type DrainOCRPayload struct {
	Limit int `json:"limit"`
}

// Task creators
func NewIndexJobTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexJob,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueCritical),
	), nil
}

func NewDrainOCRTask(limit int) (*asynq.Task, error) {
	payload, err := json.Marshal(DrainOCRPayload{Limit: limit})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskDrainOCR,
		payload,
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Hour),
		asynq.Queue(QueueLow),
	), nil
}

// Client enqueues pipeline tasks
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// EnqueueIndexJob schedules indexing of an approved job. Re-enqueueing a job
// whose task is still queued is not an error.
func (c *Client) EnqueueIndexJob(ctx context.Context, jobID string) error {
	task, err := NewIndexJobTask(jobID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.TaskID(TaskIndexJob+":"+jobID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) EnqueueDrainOCR(ctx context.Context, limit int) error {
	task, err := NewDrainOCRTask(limit)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}

// JobIndexer indexes one approved job
type JobIndexer interface {
	IndexJob(ctx context.Context, id primitive.ObjectID) error
}

// OCRDrainer works through the OCR queue
type OCRDrainer interface {
	DrainCount(ctx context.Context, limit int) (int, error)
}

// Task handlers
type TaskProcessor struct {
	indexer JobIndexer
	drainer OCRDrainer
	logger  *slog.Logger
}

func NewTaskProcessor(indexer JobIndexer, drainer OCRDrainer, logger *slog.Logger) *TaskProcessor {
	return &TaskProcessor{indexer: indexer, drainer: drainer, logger: logger}
}

// Register wires handlers onto mux
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIndexJob, p.IndexJob)
	mux.HandleFunc(TaskDrainOCR, p.DrainOCR)
}

func (p *TaskProcessor) IndexJob(ctx context.Context, t *asynq.Task) error {
	var payload IndexJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	id, err := primitive.ObjectIDFromHex(payload.JobID)
	if err != nil {
		return fmt.Errorf("bad job id %q: %w", payload.JobID, asynq.SkipRetry)
	}

	p.logger.Info("Indexing approved job", "job_id", payload.JobID)
	err = p.indexer.IndexJob(ctx, id)
	if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
		// Rejected or deleted while queued; retrying cannot help.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *TaskProcessor) DrainOCR(ctx context.Context, t *asynq.Task) error {
	var payload DrainOCRPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	n, err := p.drainer.DrainCount(ctx, payload.Limit)
	p.logger.Info("OCR drain task finished", "processed", n, "error", err)
	return err
}

// NewServer builds the asynq server used by the review worker
func NewServer(opt asynq.RedisClientOpt, concurrency int, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)
}
