package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/imageflow/pkg/metadata"
	"github.com/your-org/imageflow/pkg/metrics"
	"github.com/your-org/imageflow/pkg/storage/objectstore"
	"github.com/your-org/imageflow/pkg/storage/recordstore"
)

// BlobExtension is appended to generated object names.
const BlobExtension = ".jpg"

// EventPublisher delivers post-ingest events. *kafka.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
	Close(ctx context.Context) error
}

// Targets names where images and their records are written.
type Targets struct {
	Blob         objectstore.Target
	Table        recordstore.Target
	PartitionKey string
	// RowKey is used for every record when set; otherwise each record uses
	// its generated image ID.
	RowKey string
	Mode   recordstore.Mode
}

// Service runs the ingestion pipeline for individual images.
type Service struct {
	blobs     BlobUploader
	records   RecordUpserter
	publisher EventPublisher
	targets   Targets
	logger    *zap.Logger
	metrics   *metrics.Ingestion
	newID     func() string
}

type Params struct {
	Blobs     BlobUploader
	Records   RecordUpserter
	Publisher EventPublisher
	Targets   Targets
	Logger    *zap.Logger
	Metrics   *metrics.Ingestion
	NewID     func() string
}

// Result describes an ingested image.
type Result struct {
	ID         string
	BlobName   string
	RowKey     string
	Metadata   metadata.ImageMetadata
	Size       int64
	IngestedAt time.Time
}

// NewService constructs an ingestion Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		blobs:     p.Blobs,
		records:   p.Records,
		publisher: p.Publisher,
		targets:   p.Targets,
		logger:    logger,
		metrics:   p.Metrics,
		newID:     newID,
	}
}

// Ingest uploads body under a fresh <id>.jpg name and then records it. The
// record step only runs after a successful upload. Any failure is returned
// as a *ProcessingError.
func (s *Service) Ingest(ctx context.Context, body []byte) (*Result, error) {
	id := s.newID()
	blobName := id + BlobExtension
	rowKey := s.targets.RowKey
	if rowKey == "" {
		rowKey = id
	}

	logger := s.logger.With(zap.String("image_id", id), zap.String("blob_name", blobName))
	req := NewRequest(RequestParams{
		Body:    body,
		Blobs:   s.blobs,
		Records: s.records,
		Logger:  logger,
		Metrics: s.metrics,
	})

	if err := req.Upload(ctx, s.targets.Blob, blobName); err != nil {
		s.metrics.ObserveOutcome(metrics.OutcomeFailure)
		return nil, err
	}
	if err := req.InsertRecord(ctx, s.targets.Table, blobName, s.targets.PartitionKey, rowKey, s.targets.Mode); err != nil {
		s.metrics.ObserveOutcome(metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.ObserveOutcome(metrics.OutcomeSuccess)

	result := &Result{
		ID:         id,
		BlobName:   blobName,
		RowKey:     rowKey,
		Metadata:   req.Metadata(),
		Size:       int64(len(body)),
		IngestedAt: time.Now().UTC(),
	}
	s.publish(ctx, logger, result)
	return result, nil
}

// publish emits the ingested event. Failures are logged only; the image is
// already stored and indexed.
func (s *Service) publish(ctx context.Context, logger *zap.Logger, res *Result) {
	if s.publisher == nil {
		return
	}

	event := IngestedEvent{
		ID:           res.ID,
		Container:    s.targets.Blob.Container,
		BlobName:     res.BlobName,
		Table:        s.targets.Table.Table,
		PartitionKey: s.targets.PartitionKey,
		RowKey:       res.RowKey,
		SizeBytes:    res.Size,
		Metadata:     res.Metadata,
		CreatedAt:    res.IngestedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warn("marshal ingested event", zap.Error(err))
		return
	}

	headers := map[string]string{
		"image_id":   res.ID,
		"event_type": EventTypeIngested,
	}
	if err := s.publisher.Publish(ctx, []byte(res.ID), payload, headers); err != nil {
		logger.Warn("publish ingested event", zap.Error(err))
	}
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close(ctx))
	}
	for _, c := range []any{s.blobs, s.records} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
