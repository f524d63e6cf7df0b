package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"lovepage-backend/internal/bootstrap"
	"lovepage-backend/internal/payments"
	"lovepage-backend/internal/shared/config"
	"lovepage-backend/internal/shared/metrics"
	"lovepage-backend/internal/shared/telemetry"
	"lovepage-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	applier  workerproc.Applier
)

func initApp() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel, nil)
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	applier = built.Upgrader
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, applier, event), nil
}

// processBatch reports transient failures for redelivery; unrecoverable
// records are acknowledged so they do not loop.
func processBatch(ctx context.Context, a workerproc.Applier, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		result, err := workerproc.HandleMessage(ctx, a, payments.IsPermanent, record.Body)
		fields := map[string]any{"sqs_message_id": record.MessageId}
		if err == nil {
			fields["result"] = result
			telemetry.Info("lambda_worker.upgrade.completed", fields)
			continue
		}
		fields["error"] = err.Error()
		if workerproc.Unrecoverable(err) {
			telemetry.Error("lambda_worker.upgrade.dropped", fields)
			metrics.IncPlanUpgrade("dropped")
			continue
		}
		telemetry.Error("lambda_worker.upgrade.failed", fields)
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
