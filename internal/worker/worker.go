// Package worker runs background jobs pulled from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-numbers/backend/pkg/queue"
	"github.com/campus-numbers/backend/pkg/storage"
)

// Uploader stores archive objects.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	ImportsBucket() string
}

// JobQueue is the queue the processor drains.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor uploads the raw text of import batches to S3.
type ArchiveProcessor struct {
	store   Uploader
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiveProcessor creates an import archive processor.
func NewArchiveProcessor(store Uploader, q JobQueue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job. Already archived batches are skipped.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeImportArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ImportArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	bucket := p.store.ImportsBucket()
	key := storage.ImportArchiveKey(payload.BatchID.String())
	exists, err := p.store.Exists(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("head object: %w", err)
	}
	if exists {
		p.logger.Info("import batch already archived", zap.String("batch_id", payload.BatchID.String()))
		return nil
	}

	body := archiveBody(payload)
	url, err := p.store.Upload(ctx, bucket, key, "text/plain; charset=utf-8", strings.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("import batch archived", zap.String("batch_id", payload.BatchID.String()), zap.String("url", url))
	return nil
}

// archiveBody prefixes the raw text with a comment block describing the batch.
func archiveBody(p queue.ImportArchivePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# batch %s\n", p.BatchID)
	fmt.Fprintf(&b, "# uploaded_by %s at %s\n", p.UploadedBy, p.ImportedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# layout %s created %d updated %d skipped %d\n", p.Layout, p.CreatedCount, p.UpdatedCount, p.SkippedCount)
	b.WriteString(p.Text)
	if !strings.HasSuffix(p.Text, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
