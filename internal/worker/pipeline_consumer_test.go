package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finsight/internal/worker"
	"finsight/monitor"
)

type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) MarkProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUpdater) MarkCompleted(ctx context.Context, id string, chunksCreated, chunksStored int) error {
	args := m.Called(ctx, id, chunksCreated, chunksStored)
	return args.Error(0)
}

func (m *MockUpdater) MarkFailed(ctx context.Context, id, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Publish(ctx context.Context, uploadID string, f monitor.Frame) error {
	args := m.Called(ctx, uploadID, f)
	return args.Error(0)
}

func newMessage(body string) *nsq.Message {
	return nsq.NewMessage(nsq.MessageID{}, []byte(body))
}

func TestPipelineConsumer_HandleMessage(t *testing.T) {
	t.Run("EmptyBody", func(t *testing.T) {
		consumer := worker.NewPipelineConsumer(new(MockUpdater), new(MockBroadcaster))
		assert.NoError(t, consumer.HandleMessage(newMessage("")))
	})

	t.Run("InvalidJSONIsDropped", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		assert.NoError(t, consumer.HandleMessage(newMessage(`{not json`)))
		broadcaster.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingFieldsAreDropped", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		assert.NoError(t, consumer.HandleMessage(newMessage(`{"type":"log","data":{}}`)))
		assert.NoError(t, consumer.HandleMessage(newMessage(`{"upload_id":"id-1","data":{}}`)))
		broadcaster.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("LogFrameIsBroadcastOnly", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)

		body := `{"upload_id":"id-1","type":"log","data":{"message":"Extracting pages","level":"info"}}`
		require.NoError(t, consumer.HandleMessage(newMessage(body)))

		broadcaster.AssertExpectations(t)
		updater.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
	})

	t.Run("CompletedStatusUpdatesRow", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)
		updater.On("MarkCompleted", mock.Anything, "id-1", 180, 176).Return(nil)

		body := `{"upload_id":"id-1","type":"status","data":{"status":"completed","chunks_created":180,"chunks_stored":176}}`
		require.NoError(t, consumer.HandleMessage(newMessage(body)))

		broadcaster.AssertExpectations(t)
		updater.AssertExpectations(t)
	})

	t.Run("FailedStatusRecordsMessage", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)
		updater.On("MarkFailed", mock.Anything, "id-1", "parser crashed").Return(nil)

		body := `{"upload_id":"id-1","type":"status","data":{"status":"failed","error_message":"parser crashed"}}`
		require.NoError(t, consumer.HandleMessage(newMessage(body)))
		updater.AssertExpectations(t)
	})

	t.Run("ProcessingStatusPromotes", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)
		updater.On("MarkProcessing", mock.Anything, "id-1").Return(nil)

		body := `{"upload_id":"id-1","type":"status","data":{"status":"processing"}}`
		require.NoError(t, consumer.HandleMessage(newMessage(body)))
		updater.AssertExpectations(t)
	})

	t.Run("UnknownStatusIsDropped", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)

		body := `{"upload_id":"id-1","type":"status","data":{"status":"paused"}}`
		require.NoError(t, consumer.HandleMessage(newMessage(body)))
		updater.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
		updater.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		updater.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("BroadcastErrorIsRequeued", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(errors.New("redis down"))

		body := `{"upload_id":"id-1","type":"status","data":{"status":"completed"}}`
		err := consumer.HandleMessage(newMessage(body))
		require.Error(t, err)
		updater.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UpdaterErrorIsRequeued", func(t *testing.T) {
		updater := new(MockUpdater)
		broadcaster := new(MockBroadcaster)
		consumer := worker.NewPipelineConsumer(updater, broadcaster)

		broadcaster.On("Publish", mock.Anything, "id-1", mock.Anything).Return(nil)
		updater.On("MarkCompleted", mock.Anything, "id-1", 0, 0).Return(errors.New("db down"))

		body := `{"upload_id":"id-1","type":"status","data":{"status":"completed"}}`
		require.Error(t, consumer.HandleMessage(newMessage(body)))
	})
}
