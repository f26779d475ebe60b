package main

// Build the scheduled sweep Lambda:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-sweep
// Trigger it from an EventBridge schedule.

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"papers-backend/internal/bootstrap"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/sweep"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.BuildWith(context.Background(), cfg, bootstrap.Options{SkipRouter: true})
	if err != nil {
		initErr = err
		return
	}
	app = built
}

// result is returned to the invoker and lands in the Lambda logs.
type result struct {
	RepairedOrphanBlobs        int      `json:"repairedOrphanBlobs"`
	MarkedFailedRecords        int      `json:"markedFailedRecords"`
	BackfilledRecords          int      `json:"backfilledRecords"`
	ResolvedCascadeAnnotations int      `json:"resolvedCascadeAnnotations"`
	UnmatchedAnnotationBlobs   int      `json:"unmatchedAnnotationBlobs"`
	SchemaFailures             []string `json:"schemaFailures,omitempty"`
}

func handler(ctx context.Context, event events.CloudWatchEvent) (result, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return result{}, initErr
	}

	app.Log.Info("scheduled sweep", "event_id", event.ID, "source", event.Source)
	rep, err := app.Sweeper.Run(ctx)
	return toResult(rep), err
}

func toResult(rep sweep.Report) result {
	return result{
		RepairedOrphanBlobs:        rep.RepairedOrphanBlobs,
		MarkedFailedRecords:        rep.MarkedFailedRecords,
		BackfilledRecords:          rep.BackfilledRecords,
		ResolvedCascadeAnnotations: rep.ResolvedCascadeAnnotations,
		UnmatchedAnnotationBlobs:   rep.UnmatchedAnnotationBlobs,
		SchemaFailures:             rep.SchemaFailures,
	}
}

func main() {
	lambda.Start(handler)
}
