package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/imageflow/pkg/metadata"
	"github.com/your-org/imageflow/pkg/metadata/metadatatest"
	"github.com/your-org/imageflow/pkg/storage/objectstore"
	"github.com/your-org/imageflow/pkg/storage/recordstore"
)

var (
	blobTarget  = objectstore.Target{ConnectionString: "connection_string", Container: "container_name"}
	tableTarget = recordstore.Target{ConnectionString: "connection_string", Table: "table_name"}
)

func TestNewRequestResolvesMetadata(t *testing.T) {
	req := NewRequest(RequestParams{Body: metadatatest.JPEG()})

	assert.Equal(t, StateMetadataResolved, req.State())
	assert.Equal(t, metadata.ImageMetadata{Make: "Python", ExifPointer: "57", GPSPointer: "63"}, req.Metadata())
}

func TestNewRequestEmptyBodyDegradesWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	req := NewRequest(RequestParams{Body: []byte{}, Logger: zap.New(core)})

	assert.Equal(t, StateMetadataResolved, req.State())
	assert.Equal(t, metadata.Default(), req.Metadata())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestUploadTagsObjectWithMetadata(t *testing.T) {
	log, blobs, records := newFakes()
	image := metadatatest.JPEG()
	req := NewRequest(RequestParams{Body: image, Blobs: blobs, Records: records})

	require.NoError(t, req.Upload(context.Background(), blobTarget, "blob_file_name"))

	assert.Equal(t, StateUploaded, req.State())
	assert.Equal(t, []string{"upload"}, log.list())
	require.Len(t, blobs.calls, 1)
	call := blobs.calls[0]
	assert.Equal(t, blobTarget, call.target)
	assert.Equal(t, "blob_file_name", call.name)
	assert.Equal(t, image, call.data)
	assert.Equal(t, map[string]string{"make": "Python", "exifPointer": "57", "gpsPointer": "63"}, call.tags)
}

func TestUploadFailureIsProcessingError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	_, blobs, records := newFakes()
	cause := errors.New("Something went wrong")
	blobs.err = cause
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records, Logger: zap.New(core)})

	err := req.Upload(context.Background(), blobTarget, "blob_file_name")

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepUpload, perr.Step)
	assert.EqualError(t, err, "failed to upload image to blob storage")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFailed, req.State())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "failed to upload image to blob storage", entry.Message)
	assert.Contains(t, entry.ContextMap()["error"], "Something went wrong")
}

func TestInsertRecordBuildsRecord(t *testing.T) {
	log, blobs, records := newFakes()
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})
	require.NoError(t, req.Upload(context.Background(), blobTarget, "blob_file_name"))

	require.NoError(t, req.InsertRecord(context.Background(), tableTarget, "blob_file_name", "PK", "RK", recordstore.Merge))

	assert.Equal(t, StateRecorded, req.State())
	assert.Equal(t, []string{"upload", "record"}, log.list())
	require.Len(t, records.calls, 1)
	call := records.calls[0]
	assert.Equal(t, tableTarget, call.table)
	assert.Equal(t, recordstore.Merge, call.mode)
	assert.Equal(t, recordstore.Record{
		"PartitionKey": "PK",
		"RowKey":       "RK",
		"BlobName":     "blob_file_name",
		"make":         "Python",
		"exifPointer":  "57",
		"gpsPointer":   "63",
	}, call.rec)
}

func TestInsertRecordFailureIsProcessingError(t *testing.T) {
	_, blobs, records := newFakes()
	cause := errors.New("Something went wrong")
	records.err = cause
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})
	require.NoError(t, req.Upload(context.Background(), blobTarget, "blob_file_name"))

	err := req.InsertRecord(context.Background(), tableTarget, "blob_file_name", "PK", "RK", recordstore.Merge)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepRecord, perr.Step)
	assert.EqualError(t, err, "failed to insert record to table storage")
	var tableErr *recordstore.TableStorageError
	assert.ErrorAs(t, err, &tableErr)
	assert.Equal(t, StateFailed, req.State())
	// The uploaded object is left in place.
	assert.Len(t, blobs.calls, 1)
}

func TestInsertRecordBeforeUploadIsRejected(t *testing.T) {
	log, blobs, records := newFakes()
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})

	err := req.InsertRecord(context.Background(), tableTarget, "blob_file_name", "PK", "RK", recordstore.Merge)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrOutOfSequence)
	assert.Empty(t, log.list())
	assert.Equal(t, StateMetadataResolved, req.State())
}

func TestInsertRecordRejectsOtherBlobName(t *testing.T) {
	log, blobs, records := newFakes()
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})
	ctx := context.Background()

	require.NoError(t, req.Upload(ctx, blobTarget, "a.jpg"))
	err := req.InsertRecord(ctx, tableTarget, "b.jpg", "PK", "RK", recordstore.Merge)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepRecord, perr.Step)
	assert.ErrorIs(t, err, ErrBlobNameMismatch)
	assert.Equal(t, []string{"upload"}, log.list())
	assert.Empty(t, records.calls)
	assert.Equal(t, StateUploaded, req.State())

	require.NoError(t, req.InsertRecord(ctx, tableTarget, "a.jpg", "PK", "RK", recordstore.Merge))
	assert.Equal(t, StateRecorded, req.State())
}

func TestOperationsRunAtMostOnce(t *testing.T) {
	log, blobs, records := newFakes()
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})
	ctx := context.Background()

	require.NoError(t, req.Upload(ctx, blobTarget, "a.jpg"))
	assert.ErrorIs(t, req.Upload(ctx, blobTarget, "a.jpg"), ErrOutOfSequence)

	require.NoError(t, req.InsertRecord(ctx, tableTarget, "a.jpg", "PK", "RK", recordstore.Merge))
	assert.ErrorIs(t, req.InsertRecord(ctx, tableTarget, "a.jpg", "PK", "RK", recordstore.Merge), ErrOutOfSequence)

	assert.Equal(t, []string{"upload", "record"}, log.list())
}

func TestNoRecordAfterFailedUpload(t *testing.T) {
	log, blobs, records := newFakes()
	blobs.err = errors.New("auth failed")
	req := NewRequest(RequestParams{Body: metadatatest.JPEG(), Blobs: blobs, Records: records})
	ctx := context.Background()

	require.Error(t, req.Upload(ctx, blobTarget, "a.jpg"))
	err := req.InsertRecord(ctx, tableTarget, "a.jpg", "PK", "RK", recordstore.Merge)

	assert.ErrorIs(t, err, ErrOutOfSequence)
	assert.Equal(t, []string{"upload"}, log.list())
	assert.Empty(t, records.calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uploaded", StateUploaded.String())
	assert.Equal(t, "State(42)", State(42).String())
}
