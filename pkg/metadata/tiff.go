package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedExif is returned when the EXIF payload is structurally unsound.
var ErrMalformedExif = errors.New("malformed exif")

// ErrNoExif is returned when a JPEG carries no EXIF APP1 segment.
var ErrNoExif = errors.New("no exif segment")

const (
	tagExifIFD    = 0x8769
	tagGPSIFD     = 0x8825
	tagInteropIFD = 0xA005

	ifdEntrySize = 12
	maxIFDChain  = 16
)

var exifHeader = []byte("Exif\x00\x00")

// typeSizes maps TIFF field types 1..12 to their element width.
var typeSizes = [...]uint64{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// locateTIFF returns the TIFF payload of data, which is either a raw TIFF
// stream or a JPEG whose first EXIF APP1 segment carries one.
func locateTIFF(data []byte) ([]byte, error) {
	if len(data) >= 4 {
		switch string(data[:4]) {
		case "II*\x00", "MM\x00*":
			return data, nil
		}
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%w: not a jpeg or tiff stream", ErrMalformedExif)
	}

	i := 2
	for {
		if i >= len(data) || data[i] != 0xFF {
			return nil, fmt.Errorf("%w: missing marker at %d", ErrMalformedExif, i)
		}
		for i < len(data) && data[i] == 0xFF {
			i++
		}
		if i >= len(data) {
			return nil, fmt.Errorf("%w: truncated marker", ErrMalformedExif)
		}
		marker := data[i]
		i++

		switch {
		case marker == 0xD9 || marker == 0xDA:
			// EOI, or SOS: entropy-coded data follows and metadata precedes it.
			return nil, ErrNoExif
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue
		}

		if i+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated segment length", ErrMalformedExif)
		}
		n := int(binary.BigEndian.Uint16(data[i:]))
		if n < 2 || i+n > len(data) {
			return nil, fmt.Errorf("%w: segment 0x%02X length %d out of range", ErrMalformedExif, marker, n)
		}
		seg := data[i+2 : i+n]
		i += n

		if marker == 0xE1 && bytes.HasPrefix(seg, exifHeader) {
			return seg[len(exifHeader):], nil
		}
	}
}

// validateTIFF walks every directory the decoder will visit and rejects
// entries whose declared size or offset falls outside the payload. The
// decoder allocates from the declared count before reading, so these checks
// must run first.
func validateTIFF(tiff []byte) error {
	if len(tiff) < 8 {
		return fmt.Errorf("%w: short tiff header", ErrMalformedExif)
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return fmt.Errorf("%w: byte order %q", ErrMalformedExif, tiff[:2])
	}
	if order.Uint16(tiff[2:]) != 42 {
		return fmt.Errorf("%w: bad tiff magic", ErrMalformedExif)
	}

	v := &tiffValidator{data: tiff, order: order, seen: map[uint32]bool{}}

	offset := order.Uint32(tiff[4:])
	for n := 0; offset != 0; n++ {
		if n == maxIFDChain {
			return fmt.Errorf("%w: ifd chain longer than %d", ErrMalformedExif, maxIFDChain)
		}
		if v.seen[offset] {
			return fmt.Errorf("%w: ifd cycle at %d", ErrMalformedExif, offset)
		}
		next, err := v.dir(offset, n == 0)
		if err != nil {
			return err
		}
		offset = next
	}
	return nil
}

type tiffValidator struct {
	data  []byte
	order binary.ByteOrder
	seen  map[uint32]bool
}

// dir validates the directory at offset and returns the next-IFD offset.
// For IFD0 the EXIF and GPS sub-directories are followed, and the interop
// directory is followed from the EXIF one.
func (v *tiffValidator) dir(offset uint32, follow bool) (uint32, error) {
	v.seen[offset] = true

	size := uint64(len(v.data))
	if uint64(offset)+2 > size {
		return 0, fmt.Errorf("%w: ifd offset %d out of range", ErrMalformedExif, offset)
	}
	count := uint64(v.order.Uint16(v.data[offset:]))
	end := uint64(offset) + 2 + count*ifdEntrySize
	if end+4 > size {
		return 0, fmt.Errorf("%w: ifd at %d truncated", ErrMalformedExif, offset)
	}

	var subs []uint32
	for e := uint64(offset) + 2; e < end; e += ifdEntrySize {
		entry := v.data[e : e+ifdEntrySize]
		id := v.order.Uint16(entry)
		typ := v.order.Uint16(entry[2:])
		n := uint64(v.order.Uint32(entry[4:]))

		if typ == 0 || int(typ) >= len(typeSizes) {
			return 0, fmt.Errorf("%w: tag 0x%04X has unknown type %d", ErrMalformedExif, id, typ)
		}
		length := n * typeSizes[typ]
		if length > size {
			return 0, fmt.Errorf("%w: tag 0x%04X count %d exceeds payload", ErrMalformedExif, id, n)
		}
		if length > 4 {
			if at := uint64(v.order.Uint32(entry[8:])); at+length > size {
				return 0, fmt.Errorf("%w: tag 0x%04X value offset %d out of range", ErrMalformedExif, id, at)
			}
		}

		if !follow {
			continue
		}
		switch id {
		case tagExifIFD, tagGPSIFD, tagInteropIFD:
			sub, ok := v.pointer(typ, n, entry[8:])
			if !ok {
				return 0, fmt.Errorf("%w: tag 0x%04X is not an offset", ErrMalformedExif, id)
			}
			subs = append(subs, sub)
		}
	}

	for _, sub := range subs {
		if v.seen[sub] {
			continue
		}
		if _, err := v.dir(sub, true); err != nil {
			return 0, err
		}
	}
	return v.order.Uint32(v.data[end:]), nil
}

// pointer reads a single SHORT or LONG offset held inline in an entry.
func (v *tiffValidator) pointer(typ uint16, n uint64, value []byte) (uint32, bool) {
	if n != 1 {
		return 0, false
	}
	switch typ {
	case 3:
		return uint32(v.order.Uint16(value)), true
	case 4:
		return v.order.Uint32(value), true
	}
	return 0, false
}
