package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"climascope/internal/types"
)

type mockSQSClient struct {
	mock.Mock
}

func (m *mockSQSClient) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sqs.SendMessageOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func sampleMessage() types.SubmissionMessage {
	return types.SubmissionMessage{
		ExecutionID: "exec-1",
		CountyID:    "32",
		PeriodStart: types.NewDate(2026, 3, 2),
		PeriodEnd:   types.NewDate(2026, 3, 8),
		Document:    json.RawMessage(`{"schema_version":"1.2"}`),
		TraceID:     "trace-abc",
		SubmittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_SendsSerializedMessage(t *testing.T) {
	client := &mockSQSClient{}
	dispatcher := NewSQSDispatcher(client, "https://sqs.test/reports", slog.New(slog.NewTextHandler(io.Discard, nil)))

	var captured *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.AnythingOfType("*sqs.SendMessageInput")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*sqs.SendMessageInput)
		}).
		Return(&sqs.SendMessageOutput{}, nil)

	err := dispatcher.Dispatch(context.Background(), sampleMessage())
	require.NoError(t, err)
	client.AssertExpectations(t)

	require.NotNil(t, captured)
	assert.Equal(t, "https://sqs.test/reports", *captured.QueueUrl)
	assert.Equal(t, "32", *captured.MessageAttributes["county_id"].StringValue)

	var decoded types.SubmissionMessage
	require.NoError(t, json.Unmarshal([]byte(*captured.MessageBody), &decoded))
	assert.Equal(t, "exec-1", decoded.ExecutionID)
	assert.Equal(t, "2026-03-02", decoded.PeriodStart.String())
	assert.JSONEq(t, `{"schema_version":"1.2"}`, string(decoded.Document))
}

func TestDispatch_SendFailure(t *testing.T) {
	client := &mockSQSClient{}
	dispatcher := NewSQSDispatcher(client, "https://sqs.test/reports", slog.New(slog.NewTextHandler(io.Discard, nil)))

	client.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("network down"))

	err := dispatcher.Dispatch(context.Background(), sampleMessage())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalQueue, appErr.Code)
}
