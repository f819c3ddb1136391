package ingestion

import (
	"time"

	"github.com/your-org/imageflow/pkg/metadata"
)

// EventTypeIngested is the event_type header of IngestedEvent messages.
const EventTypeIngested = "image.ingested"

// IngestedEvent is emitted after an image is stored and indexed.
type IngestedEvent struct {
	ID           string                 `json:"id"`
	Container    string                 `json:"container"`
	BlobName     string                 `json:"blob_name"`
	Table        string                 `json:"table"`
	PartitionKey string                 `json:"partition_key"`
	RowKey       string                 `json:"row_key"`
	SizeBytes    int64                  `json:"size_bytes"`
	Metadata     metadata.ImageMetadata `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
}
