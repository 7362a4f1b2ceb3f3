// Package queue provides the SQS-based report submission dispatcher. The API
// enqueues a SubmissionMessage after creating the execution record; the report
// worker consumes it and drives the pipeline to a terminal state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"climascope/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher implements types.ReportDispatcher over a single report queue.
type SQSDispatcher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSDispatcher creates a dispatcher for the given queue URL.
func NewSQSDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *SQSDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSDispatcher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Dispatch serializes the submission and sends it to the report queue. The
// execution record already exists in Pending state; a dispatch failure is
// surfaced to the caller so the submission can be rejected atomically.
func (d *SQSDispatcher) Dispatch(ctx context.Context, msg types.SubmissionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalQueue,
			"failed to marshal submission message",
			err,
		)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"county_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.CountyID),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalQueue,
			fmt.Sprintf("failed to dispatch submission to %s", d.queueURL),
			err,
		)
	}

	d.logger.InfoContext(ctx, "submission dispatched",
		"queue_url", d.queueURL,
		"execution_id", msg.ExecutionID,
		"county_id", msg.CountyID,
		"trace_id", msg.TraceID,
	)
	return nil
}

var _ types.ReportDispatcher = (*SQSDispatcher)(nil)
