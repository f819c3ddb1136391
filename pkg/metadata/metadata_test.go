package metadata_test

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/imageflow/pkg/metadata"
	"github.com/your-org/imageflow/pkg/metadata/metadatatest"
)

func TestExtract(t *testing.T) {
	md, err := metadata.Extract(metadatatest.JPEG())
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageMetadata{
		Make:        "Python",
		ExifPointer: "57",
		GPSPointer:  "63",
	}, md)
	assert.False(t, md.IsDefault())
}

func TestExtractRawTIFF(t *testing.T) {
	md, err := metadata.Extract(metadatatest.TIFF())
	require.NoError(t, err)
	assert.Equal(t, metadatatest.Make, md.Make)
	assert.Equal(t, metadatatest.ExifPointer, md.ExifPointer)
	assert.Equal(t, metadatatest.GPSPointer, md.GPSPointer)
}

func TestExtractWithoutGPSPointer(t *testing.T) {
	md, err := metadata.Extract(metadatatest.JPEGWithoutGPS())
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageMetadata{
		Make:        metadatatest.Make,
		ExifPointer: metadatatest.ExifPointerWithoutGPS,
		GPSPointer:  metadata.Unknown,
	}, md)
	assert.False(t, md.IsDefault())
}

func TestExtractSkipsSegmentsBeforeExif(t *testing.T) {
	jfif := []byte{0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}
	data := append([]byte{0xFF, 0xD8}, jfif...)
	data = append(data, metadatatest.JPEG()[2:]...)

	md, err := metadata.Extract(data)
	require.NoError(t, err)
	assert.Equal(t, metadatatest.Make, md.Make)
	assert.Equal(t, metadatatest.GPSPointer, md.GPSPointer)
}

// hugeCountJPEG is the fixture with the EXIF pointer's LONG count set to
// 0xC0000001, which the decoder would otherwise try to allocate.
const hugeCountJPEG = "ffd8ffe1004d4578696600004d4d002a000000080003010f0002000000070000003287690004c00000010000003988250004000037010000003f00000000507974686f6e00000000000000000000000000ffd9"

// corrupted returns metadatatest.JPEG with its TIFF payload altered by mutate.
// Offsets are relative to the TIFF header.
func corrupted(mutate func(tiff []byte)) []byte {
	tiff := metadatatest.TIFF()
	mutate(tiff)
	return metadatatest.WrapJPEG(tiff)
}

func put16(at int, v uint16) func([]byte) {
	return func(b []byte) { binary.BigEndian.PutUint16(b[at:], v) }
}

func put32(at int, v uint32) func([]byte) {
	return func(b []byte) { binary.BigEndian.PutUint32(b[at:], v) }
}

func TestExtractFailures(t *testing.T) {
	huge, err := hex.DecodeString(hugeCountJPEG)
	require.NoError(t, err)

	truncatedApp1 := metadatatest.JPEG()
	binary.BigEndian.PutUint16(truncatedApp1[4:], 1)

	cases := map[string][]byte{
		"empty":                     {},
		"nil":                       nil,
		"garbage":                   []byte("definitely not an image"),
		"bare jpeg":                 {0xFF, 0xD8, 0xFF, 0xD9},
		"huge exif pointer count":   huge,
		"huge make count":           corrupted(put32(14, 0xFFFFFFFF)),
		"make value out of range":   corrupted(put32(18, 0xFFF0)),
		"unknown field type":        corrupted(put16(12, 0x00FF)),
		"ifd0 offset out of range":  corrupted(put32(4, 0xFFFF)),
		"ifd0 truncated":            corrupted(put16(8, 200)),
		"ifd chain cycle":           corrupted(put32(46, 8)),
		"exif pointer out of range": corrupted(put32(30, 0xFFFF)),
		"gps ifd truncated":         corrupted(put16(63, 1)),
		"bad byte order":            corrupted(func(b []byte) { copy(b, "XX") }),
		"bad tiff magic":            corrupted(put16(2, 43)),
		"truncated jpeg":            metadatatest.JPEG()[:40],
		"short app1 length":         truncatedApp1,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			md, err := metadata.Extract(data)
			require.Error(t, err)
			assert.Equal(t, metadata.ImageMetadata{}, md)
		})
	}
}

func TestExtractMalformedIsErrMalformedExif(t *testing.T) {
	_, err := metadata.Extract(corrupted(put32(26, 0xC0000001)))
	require.ErrorIs(t, err, metadata.ErrMalformedExif)
}

func FuzzExtract(f *testing.F) {
	f.Add(metadatatest.JPEG())
	f.Add(metadatatest.TIFF())
	f.Add(metadatatest.JPEGWithoutGPS())
	if huge, err := hex.DecodeString(hugeCountJPEG); err == nil {
		f.Add(huge)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		md, err := metadata.Extract(data)
		if err != nil {
			assert.Equal(t, metadata.ImageMetadata{}, md)
			return
		}
		assert.NotEmpty(t, md.Make)
		assert.NotEmpty(t, md.ExifPointer)
		assert.NotEmpty(t, md.GPSPointer)
	})
}

func TestExtractEmptyIsErrEmptyImage(t *testing.T) {
	_, err := metadata.Extract(nil)
	require.ErrorIs(t, err, metadata.ErrEmptyImage)
}

func TestDefault(t *testing.T) {
	md := metadata.Default()
	assert.True(t, md.IsDefault())
	assert.Equal(t, map[string]string{
		"make":        "Unknown",
		"exifPointer": "Unknown",
		"gpsPointer":  "Unknown",
	}, md.Tags())
}
