// Package metadatatest provides image fixtures for tests.
package metadatatest

import (
	"bytes"
	"encoding/binary"
)

// Values carried by JPEG.
const (
	Make        = "Python"
	ExifPointer = "57"
	GPSPointer  = "63"
)

// ExifPointerWithoutGPS is the EXIF sub-IFD offset carried by
// JPEGWithoutGPS.
const ExifPointerWithoutGPS = "45"

// JPEG returns a minimal JPEG whose APP1 segment holds a big-endian TIFF
// structure with a Make tag and empty EXIF and GPS sub-IFDs at offsets 57
// and 63.
func JPEG() []byte {
	return WrapJPEG(TIFF())
}

// JPEGWithoutGPS is JPEG minus the GPS pointer; the EXIF sub-IFD sits at 45.
func JPEGWithoutGPS() []byte {
	return WrapJPEG(buildTIFF(false))
}

// TIFF returns the raw TIFF payload embedded in JPEG.
func TIFF() []byte {
	return buildTIFF(true)
}

// WrapJPEG embeds a TIFF payload in an EXIF APP1 segment between SOI and
// EOI. The payload is used as given, so callers may pass corrupted bytes.
func WrapJPEG(tiff []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8})
	buf.Write([]byte{0xFF, 0xE1})
	binary.Write(&buf, binary.BigEndian, uint16(2+6+len(tiff))) //nolint:errcheck
	buf.WriteString("Exif\x00\x00")
	buf.Write(tiff)
	buf.Write([]byte{0xFF, 0xD9})
	return buf.Bytes()
}

func buildTIFF(withGPS bool) []byte {
	be := binary.BigEndian
	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, be, v) } //nolint:errcheck

	entries := uint16(2)
	if withGPS {
		entries = 3
	}
	makeAt := uint32(8 + 2 + 12*int(entries) + 4)
	exifAt := makeAt + uint32(len(Make)+1)
	gpsAt := exifAt + 6

	// header
	buf.WriteString("MM")
	w(uint16(42))
	w(uint32(8))

	// IFD0: Make, ExifIFDPointer, GPSInfoIFDPointer
	w(entries)
	w(uint16(0x010F))
	w(uint16(2))
	w(uint32(len(Make) + 1))
	w(makeAt)
	w(uint16(0x8769))
	w(uint16(4))
	w(uint32(1))
	w(exifAt)
	if withGPS {
		w(uint16(0x8825))
		w(uint16(4))
		w(uint32(1))
		w(gpsAt)
	}
	w(uint32(0))

	buf.WriteString(Make)
	buf.WriteByte(0)

	// empty EXIF IFD
	w(uint16(0))
	w(uint32(0))

	if withGPS {
		// empty GPS IFD
		w(uint16(0))
		w(uint32(0))
	}

	return buf.Bytes()
}
