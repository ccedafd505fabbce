package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// File header constants.
const (
	// HeaderSize is the size of the file header preceding the node records.
	HeaderSize = 1024

	// CurrentVersion is the current file format version.
	CurrentVersion uint32 = 1

	maxCRSLength = 255
)

// Magic identifies an index file: "GTKI".
var Magic = [4]byte{'G', 'T', 'K', 'I'}

// FileHeader is the first block of an index file.
// Layout (little endian):
//   - Bytes 0-3:     magic
//   - Bytes 4-7:     version (uint32)
//   - Bytes 8-9:     dimension (uint16)
//   - Bytes 10-11:   capacity M (uint16)
//   - Bytes 12-13:   minimum fill m (uint16)
//   - Byte 14:       split variant
//   - Byte 15:       Hilbert curve order
//   - Bytes 16-19:   record size (uint32)
//   - Bytes 20-23:   records allocated (uint32)
//   - Bytes 24-27:   free list head (NodeID)
//   - Bytes 28-31:   free list length (uint32)
//   - Bytes 32-35:   root (NodeID)
//   - Bytes 36-43:   element count (uint64)
//   - Bytes 44-51:   next element identifier (int64)
//   - Byte 52:       CRS identifier length
//   - Bytes 53-307:  CRS identifier
//   - Byte 308:      domain present
//   - Bytes 309-...: domain, d lower then d upper float64
//   - Bytes 1020-1023: CRC32 of bytes 0-1019
type FileHeader struct {
	Magic      [4]byte
	Version    uint32
	Dimension  int
	Capacity   int
	RecordSize int
	Records    uint32
	FreeHead   NodeID
	FreeCount  uint32
	Meta       Meta
}

// NewFileHeader creates a header for a new file.
func NewFileHeader(dim, capacity int) *FileHeader {
	return &FileHeader{
		Magic:      Magic,
		Version:    CurrentVersion,
		Dimension:  dim,
		Capacity:   capacity,
		RecordSize: RecordSize(dim, capacity),
	}
}

// Serialize writes the header into a new HeaderSize buffer.
func (h *FileHeader) Serialize() ([]byte, error) {
	if len(h.Meta.CRS) > maxCRSLength {
		return nil, fmt.Errorf("%w: CRS identifier of %d bytes", ErrLayout, len(h.Meta.CRS))
	}
	if h.Meta.HilbertOrder < 0 || h.Meta.HilbertOrder > 0xff {
		return nil, fmt.Errorf("%w: Hilbert order %d", ErrLayout, h.Meta.HilbertOrder)
	}
	if !h.Meta.Domain.IsEmpty() && h.Meta.Domain.Dimension() != h.Dimension {
		return nil, fmt.Errorf("%w: domain has %d axes, want %d", ErrLayout, h.Meta.Domain.Dimension(), h.Dimension)
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(h.Dimension))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.Capacity))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(h.Meta.MinEntries))
	buf[14] = h.Meta.Variant
	buf[15] = uint8(h.Meta.HilbertOrder)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[20:24], h.Records)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.FreeHead))
	binary.LittleEndian.PutUint32(buf[28:32], h.FreeCount)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.Meta.Root))
	binary.LittleEndian.PutUint64(buf[36:44], h.Meta.Elements)
	binary.LittleEndian.PutUint64(buf[44:52], uint64(h.Meta.NextIdentifier))
	buf[52] = uint8(len(h.Meta.CRS))
	copy(buf[53:53+maxCRSLength], h.Meta.CRS)
	if !h.Meta.Domain.IsEmpty() {
		buf[308] = 1
		putEnvelope(buf[309:], h.Meta.Domain)
	}

	binary.LittleEndian.PutUint32(buf[HeaderSize-4:], crc32.ChecksumIEEE(buf[:HeaderSize-4]))
	return buf, nil
}

// Deserialize reads and validates a header.
func (h *FileHeader) Deserialize(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header of %d bytes", ErrCorruptRecord, len(buf))
	}
	copy(h.Magic[:], buf[0:4])
	if h.Magic != Magic {
		return ErrBadMagic
	}
	if crc32.ChecksumIEEE(buf[:HeaderSize-4]) != binary.LittleEndian.Uint32(buf[HeaderSize-4:HeaderSize]) {
		return ErrChecksum
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	if h.Version == 0 || h.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}

	h.Dimension = int(binary.LittleEndian.Uint16(buf[8:10]))
	h.Capacity = int(binary.LittleEndian.Uint16(buf[10:12]))
	if err := checkLayout(h.Dimension, h.Capacity); err != nil {
		return err
	}
	h.Meta.MinEntries = int(binary.LittleEndian.Uint16(buf[12:14]))
	h.Meta.Variant = buf[14]
	h.Meta.HilbertOrder = int(buf[15])
	h.RecordSize = int(binary.LittleEndian.Uint32(buf[16:20]))
	if h.RecordSize != RecordSize(h.Dimension, h.Capacity) {
		return fmt.Errorf("%w: record size %d", ErrLayout, h.RecordSize)
	}
	h.Records = binary.LittleEndian.Uint32(buf[20:24])
	h.FreeHead = NodeID(binary.LittleEndian.Uint32(buf[24:28]))
	h.FreeCount = binary.LittleEndian.Uint32(buf[28:32])
	h.Meta.Root = NodeID(binary.LittleEndian.Uint32(buf[32:36]))
	h.Meta.Elements = binary.LittleEndian.Uint64(buf[36:44])
	h.Meta.NextIdentifier = int64(binary.LittleEndian.Uint64(buf[44:52]))
	crsLen := int(buf[52])
	h.Meta.CRS = string(buf[53 : 53+crsLen])
	h.Meta.Domain = envelope.Envelope{}
	if buf[308] == 1 {
		h.Meta.Domain = getEnvelope(buf[309:], h.Dimension)
	}
	return nil
}
