package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/imageflow/pkg/metadata"
	"github.com/your-org/imageflow/pkg/metrics"
	"github.com/your-org/imageflow/pkg/storage/objectstore"
	"github.com/your-org/imageflow/pkg/storage/recordstore"
)

// BlobName is the record property holding the uploaded object's name.
const BlobName = "BlobName"

const tracerName = "github.com/your-org/imageflow/internal/ingestion"

// BlobUploader stores image bytes. *objectstore.Uploader satisfies it.
type BlobUploader interface {
	Upload(ctx context.Context, target objectstore.Target, name string, data []byte, tags map[string]string) error
}

// RecordUpserter writes index records. *recordstore.Upserter satisfies it.
type RecordUpserter interface {
	Upsert(ctx context.Context, target recordstore.Target, rec recordstore.Record, mode recordstore.Mode) error
}

// State is the lifecycle position of a Request.
type State int

const (
	StateConstructed State = iota
	StateMetadataResolved
	StateUploaded
	StateRecorded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateMetadataResolved:
		return "metadata_resolved"
	case StateUploaded:
		return "uploaded"
	case StateRecorded:
		return "recorded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RequestParams configures a Request.
type RequestParams struct {
	Body    []byte
	Blobs   BlobUploader
	Records RecordUpserter
	Logger  *zap.Logger
	Metrics *metrics.Ingestion
}

// Request carries one image through upload and record insertion. It is not
// safe for concurrent use and must not be reused across HTTP requests.
type Request struct {
	body     []byte
	metadata metadata.ImageMetadata
	blobs    BlobUploader
	records  RecordUpserter
	logger   *zap.Logger
	metrics  *metrics.Ingestion
	tracer   trace.Tracer

	state    State
	blobName string
}

// NewRequest resolves the image metadata and returns a Request ready for
// Upload. Metadata extraction never fails the request: on error the
// sentinel metadata is used and a warning is logged.
func NewRequest(p RequestParams) *Request {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Request{
		body:    p.Body,
		blobs:   p.Blobs,
		records: p.Records,
		logger:  logger,
		metrics: p.Metrics,
		tracer:  otel.Tracer(tracerName),
		state:   StateConstructed,
	}

	md, err := metadata.Extract(p.Body)
	if err != nil {
		r.logger.Warn("using default image metadata", zap.Error(err))
		r.metrics.MetadataDegraded()
		md = metadata.Default()
	}
	r.metadata = md
	r.state = StateMetadataResolved
	return r
}

// Metadata returns the resolved image metadata.
func (r *Request) Metadata() metadata.ImageMetadata {
	return r.metadata
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	return r.state
}

// Upload stores the image as target.Container/blobName tagged with its
// metadata. It may only be called once, before InsertRecord.
func (r *Request) Upload(ctx context.Context, target objectstore.Target, blobName string) error {
	if r.state != StateMetadataResolved {
		return r.outOfSequence(StepUpload)
	}

	ctx, span := r.tracer.Start(ctx, "ingestion.upload", trace.WithAttributes(
		attribute.String("blob.container", target.Container),
		attribute.String("blob.name", blobName),
		attribute.Int("blob.size", len(r.body)),
	))
	defer span.End()

	start := time.Now()
	err := r.blobs.Upload(ctx, target, blobName, r.body, r.metadata.Tags())
	r.metrics.ObserveStep(string(StepUpload), time.Since(start))
	if err != nil {
		return r.fail(span, StepUpload, err, zap.String("blob_name", blobName))
	}

	r.state = StateUploaded
	r.blobName = blobName
	return nil
}

// InsertRecord upserts the index record for the uploaded image. It may only
// be called once, after a successful Upload, and blobName must be the name
// that was uploaded. A failure here leaves the uploaded object in place.
func (r *Request) InsertRecord(ctx context.Context, target recordstore.Target, blobName, partitionKey, rowKey string, mode recordstore.Mode) error {
	if r.state != StateUploaded {
		return r.outOfSequence(StepRecord)
	}
	if blobName != r.blobName {
		err := fmt.Errorf("%w: got %q, uploaded %q", ErrBlobNameMismatch, blobName, r.blobName)
		r.logger.Error("pipeline misuse", zap.Error(err))
		return &ProcessingError{Step: StepRecord, Err: err}
	}

	ctx, span := r.tracer.Start(ctx, "ingestion.record", trace.WithAttributes(
		attribute.String("record.table", target.Table),
		attribute.String("record.partition_key", partitionKey),
		attribute.String("record.row_key", rowKey),
		attribute.String("record.mode", mode.String()),
	))
	defer span.End()

	rec := recordstore.Record{
		recordstore.PartitionKey: partitionKey,
		recordstore.RowKey:       rowKey,
		BlobName:                 blobName,
	}
	for k, v := range r.metadata.Tags() {
		rec[k] = v
	}

	start := time.Now()
	err := r.records.Upsert(ctx, target, rec, mode)
	r.metrics.ObserveStep(string(StepRecord), time.Since(start))
	if err != nil {
		return r.fail(span, StepRecord, err,
			zap.String("blob_name", blobName),
			zap.String("table", target.Table),
		)
	}

	r.state = StateRecorded
	return nil
}

func (r *Request) fail(span trace.Span, step Step, err error, fields ...zap.Field) error {
	perr := &ProcessingError{Step: step, Err: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, perr.Error())
	r.logger.Error(perr.Error(), append(fields, zap.Error(err))...)
	r.state = StateFailed
	return perr
}

func (r *Request) outOfSequence(step Step) error {
	err := fmt.Errorf("%w: %s from state %s", ErrOutOfSequence, step, r.state)
	r.logger.Error("pipeline misuse", zap.Error(err))
	return &ProcessingError{Step: step, Err: err}
}
