// Package export periodically serializes pipeline state snapshots and
// uploads them to S3-compatible object storage for offline analysis. The
// exporter is optional; deployments without a bucket simply do not run it.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source produces the state document to export.
type Source interface {
	Snapshot(ctx context.Context) (any, error)
}

// ObjectStore is the subset of the S3 API the exporter uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientConfig holds credentials for the S3-compatible endpoint.
type ClientConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// NewClient creates an S3 client for an R2-compatible endpoint.
func NewClient(cfg ClientConfig) (*s3.Client, error) {
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	return s3.New(s3.Options{
		Region: "auto", // R2 uses auto region
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // No session token for R2
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true, // R2 requires path-style addressing
	}), nil
}

// Defaults for the export job.
const (
	DefaultInterval = 5 * time.Minute
	DefaultTimeout  = 30 * time.Second
	DefaultPrefix   = "snapshots"
)

// JobConfig configures the export job.
type JobConfig struct {
	// Interval is the duration between export cycles.
	Interval time.Duration
	// Timeout bounds a single export cycle.
	Timeout time.Duration
	// Bucket receives the snapshot objects.
	Bucket string
	// Prefix namespaces the snapshot keys.
	Prefix string
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for export tracking.
	Metrics *Metrics
}

// Job periodically exports snapshots to the object store.
type Job struct {
	config JobConfig
	source Source
	store  ObjectStore

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	timeNow func() time.Time
}

// NewJob creates an export job. Returns an error when the bucket is missing.
func NewJob(config JobConfig, source Source, store ObjectStore) (*Job, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Job{
		config:  config,
		source:  source,
		store:   store,
		timeNow: time.Now,
	}, nil
}

// Start begins the periodic export job.
// Returns immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the export job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("snapshot export job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("snapshot export job stopping due to stop signal")
			return
		case <-ticker.C:
			if err := j.ExportOnce(ctx); err != nil {
				j.config.Logger.Error("snapshot export failed", "error", err)
			}
		}
	}
}

// ExportOnce runs a single export cycle: snapshot, serialize, upload.
func (j *Job) ExportOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	start := j.timeNow()

	state, err := j.source.Snapshot(ctx)
	if err != nil {
		j.observe("error", start)
		return fmt.Errorf("failed to snapshot state: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		j.observe("error", start)
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	key := j.objectKey(start)
	_, err = j.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		j.observe("error", start)
		return fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	j.observe("success", start)
	j.config.Logger.Info("snapshot exported",
		"key", key,
		"bytes", len(data),
	)
	return nil
}

// objectKey builds a time-partitioned key so snapshots list naturally by
// day.
func (j *Job) objectKey(at time.Time) string {
	return fmt.Sprintf("%s/%s.json", j.config.Prefix, at.UTC().Format("2006/01/02/150405"))
}

func (j *Job) observe(status string, start time.Time) {
	if j.config.Metrics == nil {
		return
	}
	j.config.Metrics.IncExports(status)
	j.config.Metrics.ObserveExportDuration(j.timeNow().Sub(start).Seconds())
}
