package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civic-ingest/models"
)

type stubIndexer struct {
	got primitive.ObjectID
	err error
}

func (s *stubIndexer) IndexJob(_ context.Context, id primitive.ObjectID) error {
	s.got = id
	return s.err
}

func newProcessor(indexer JobIndexer) *TaskProcessor {
	return NewTaskProcessor(indexer, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewIndexJobTask(t *testing.T) {
	task, err := NewIndexJobTask("abc")
	require.NoError(t, err)
	assert.Equal(t, TaskIndexJob, task.Type())

	var payload IndexJobPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "abc", payload.JobID)
}

func TestIndexJobHandlerPassesID(t *testing.T) {
	id := primitive.NewObjectID()
	indexer := &stubIndexer{}
	task, _ := NewIndexJobTask(id.Hex())

	require.NoError(t, newProcessor(indexer).IndexJob(context.Background(), task))
	assert.Equal(t, id, indexer.got)
}

func TestIndexJobHandlerSkipsRetryOnBadInput(t *testing.T) {
	task := asynq.NewTask(TaskIndexJob, []byte("not json"))
	err := newProcessor(&stubIndexer{}).IndexJob(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, _ = NewIndexJobTask("zz")
	err = newProcessor(&stubIndexer{}).IndexJob(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIndexJobHandlerRetryPolicy(t *testing.T) {
	task, _ := NewIndexJobTask(primitive.NewObjectID().Hex())

	err := newProcessor(&stubIndexer{err: models.ErrInvalidTransition}).IndexJob(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	transient := errors.New("upload timed out")
	err = newProcessor(&stubIndexer{err: transient}).IndexJob(context.Background(), task)
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
