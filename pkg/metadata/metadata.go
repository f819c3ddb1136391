// Package metadata extracts the small set of EXIF fields recorded for each
// ingested image.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// Unknown is the sentinel stored for any field that could not be extracted.
const Unknown = "Unknown"

// Tag keys used when metadata is flattened into object tags or records.
const (
	KeyMake        = "make"
	KeyExifPointer = "exifPointer"
	KeyGPSPointer  = "gpsPointer"
)

// ErrEmptyImage is returned by Extract for a zero-length buffer.
var ErrEmptyImage = errors.New("empty image")

// ImageMetadata is the fixed-shape record derived from an image.
type ImageMetadata struct {
	Make        string `json:"make"`
	ExifPointer string `json:"exifPointer"`
	GPSPointer  string `json:"gpsPointer"`
}

// Default returns the sentinel record used when extraction fails.
func Default() ImageMetadata {
	return ImageMetadata{
		Make:        Unknown,
		ExifPointer: Unknown,
		GPSPointer:  Unknown,
	}
}

// IsDefault reports whether every field holds the sentinel.
func (m ImageMetadata) IsDefault() bool {
	return m == Default()
}

// Tags flattens the metadata into string key/value pairs.
func (m ImageMetadata) Tags() map[string]string {
	return map[string]string{
		KeyMake:        m.Make,
		KeyExifPointer: m.ExifPointer,
		KeyGPSPointer:  m.GPSPointer,
	}
}

// Extract parses data as a JPEG or TIFF container and reads the camera make
// and the EXIF and GPS sub-IFD offsets. The TIFF structure is bounds-checked
// before it reaches the decoder. It has no side effects; callers decide what
// to substitute when it fails.
func Extract(data []byte) (ImageMetadata, error) {
	if len(data) == 0 {
		return ImageMetadata{}, fmt.Errorf("extract metadata: %w", ErrEmptyImage)
	}

	tiff, err := locateTIFF(data)
	if err != nil {
		return ImageMetadata{}, fmt.Errorf("extract metadata: %w", err)
	}
	if err := validateTIFF(tiff); err != nil {
		return ImageMetadata{}, fmt.Errorf("extract metadata: %w", err)
	}

	x, err := exif.Decode(bytes.NewReader(tiff))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return ImageMetadata{}, fmt.Errorf("extract metadata: %w", err)
	}

	tag, err := x.Get(exif.Make)
	if err != nil {
		return ImageMetadata{}, fmt.Errorf("extract metadata: %w", err)
	}
	maker, err := tag.StringVal()
	if err != nil {
		return ImageMetadata{}, fmt.Errorf("extract metadata: make: %w", err)
	}
	maker = strings.TrimSpace(maker)
	if maker == "" {
		maker = Unknown
	}

	return ImageMetadata{
		Make:        maker,
		ExifPointer: pointer(x, exif.ExifIFDPointer),
		GPSPointer:  pointer(x, exif.GPSInfoIFDPointer),
	}, nil
}

// pointer stringifies a sub-IFD offset, or returns Unknown when absent.
func pointer(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return Unknown
	}
	off, err := tag.Int64(0)
	if err != nil {
		return Unknown
	}
	return strconv.FormatInt(off, 10)
}
