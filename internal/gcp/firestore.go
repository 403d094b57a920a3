package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/doctransform/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobLedger writes an audit record of every conversion job state. Nothing in
// the service reads it back.
type JobLedger struct {
	client     *firestore.Client
	collection string
}

func NewJobLedger(client *firestore.Client, collection string) *JobLedger {
	if collection == "" {
		collection = "conversion_jobs"
	}
	return &JobLedger{client: client, collection: collection}
}

// Record overwrites the job's document with its current state.
func (l *JobLedger) Record(ctx context.Context, job models.ConversionJob) error {
	if job.ID == "" {
		return fmt.Errorf("cannot record a job without an id")
	}
	if _, err := l.client.Collection(l.collection).Doc(job.ID).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to record job %s as %s: %w", job.ID, job.State, err)
	}
	return nil
}
