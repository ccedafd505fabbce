package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// Layout limits.
const (
	MaxDimension = envelope.MaxDimension
	MaxCapacity  = 4096
)

// Record flags.
const (
	FlagLeaf     uint8 = 1 << 0
	FlagInternal uint8 = 1 << 1
	FlagEmpty    uint8 = 1 << 2
	FlagFree     uint8 = 1 << 3
)

// Node record layout (little endian), padded to RecordSize:
//   - Byte 0:      flags
//   - Byte 1:      reserved
//   - Bytes 2-3:   entry count (uint16)
//   - Bytes 4-7:   parent NodeID (uint32)
//   - Bytes 8-11:  sibling NodeID (uint32)
//   - 16*d bytes:  boundary, d lower then d upper float64
//   - per entry:   16*d bytes envelope, 8 bytes id (int64), 8 bytes key (uint64)
//   - last 4:      CRC32 of everything before it
const recordHeaderSize = 12

// RecordSize returns the fixed size of a node record for the given layout.
func RecordSize(dim, capacity int) int {
	return recordHeaderSize + 16*dim + capacity*entrySize(dim) + 4
}

func entrySize(dim int) int {
	return 16*dim + 16
}

func checkNode(n *Node, dim, capacity int) error {
	if n.Len() > capacity {
		return fmt.Errorf("%w: %d entries, capacity %d", ErrNodeFull, n.Len(), capacity)
	}
	for i, e := range n.entries {
		if e.Envelope.Dimension() != dim || len(e.Envelope.Upper) != dim {
			return fmt.Errorf("%w: entry %d has %d axes, want %d", envelope.ErrDimensionMismatch, i, e.Envelope.Dimension(), dim)
		}
	}
	return nil
}

// EncodeNode serializes n into a record of RecordSize(dim, capacity) bytes.
func EncodeNode(n *Node, dim, capacity int) ([]byte, error) {
	if err := checkNode(n, dim, capacity); err != nil {
		return nil, err
	}
	buf := make([]byte, RecordSize(dim, capacity))

	flags := FlagInternal
	if n.leaf {
		flags = FlagLeaf
	}
	if n.IsEmpty() {
		flags |= FlagEmpty
	}
	buf[0] = flags
	binary.LittleEndian.PutUint16(buf[2:4], uint16(n.Len()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n.Parent))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.Sibling))

	off := recordHeaderSize
	if b, ok := n.Boundary(); ok {
		putEnvelope(buf[off:], b)
	}
	off += 16 * dim

	for _, e := range n.entries {
		putEnvelope(buf[off:], e.Envelope)
		off += 16 * dim
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.ID))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Key)
		off += 16
	}

	sealRecord(buf)
	return buf, nil
}

// DecodeNode deserializes a record written by EncodeNode.
func DecodeNode(buf []byte, id NodeID, dim, capacity int) (*Node, error) {
	n, flags, err := decodeRecord(buf, id, dim, capacity)
	if err != nil {
		return nil, err
	}
	if flags&FlagFree != 0 {
		return nil, ErrNoSuchNode
	}
	return n, nil
}

// encodeFree builds the record of a released node, chained to next.
func encodeFree(next NodeID, dim, capacity int) []byte {
	buf := make([]byte, RecordSize(dim, capacity))
	buf[0] = FlagFree
	binary.LittleEndian.PutUint32(buf[8:12], uint32(next))
	sealRecord(buf)
	return buf
}

func sealRecord(buf []byte) {
	end := len(buf) - 4
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
}

func decodeRecord(buf []byte, id NodeID, dim, capacity int) (*Node, uint8, error) {
	size := RecordSize(dim, capacity)
	if len(buf) != size {
		return nil, 0, fmt.Errorf("%w: record of %d bytes, want %d", ErrCorruptRecord, len(buf), size)
	}
	end := size - 4
	if crc32.ChecksumIEEE(buf[:end]) != binary.LittleEndian.Uint32(buf[end:]) {
		return nil, 0, ErrChecksum
	}

	flags := buf[0]
	count := int(binary.LittleEndian.Uint16(buf[2:4]))
	parent := NodeID(binary.LittleEndian.Uint32(buf[4:8]))
	sibling := NodeID(binary.LittleEndian.Uint32(buf[8:12]))

	if flags&FlagFree != 0 {
		n := NewNode(id, true, capacity)
		n.Sibling = sibling
		return n, flags, nil
	}

	leaf := flags&FlagLeaf != 0
	if leaf == (flags&FlagInternal != 0) {
		return nil, flags, fmt.Errorf("%w: flags %#x", ErrCorruptRecord, flags)
	}
	if count > capacity {
		return nil, flags, fmt.Errorf("%w: %d entries, capacity %d", ErrCorruptRecord, count, capacity)
	}
	if (count == 0) != (flags&FlagEmpty != 0) {
		return nil, flags, fmt.Errorf("%w: empty flag disagrees with count %d", ErrCorruptRecord, count)
	}

	n := NewNode(id, leaf, capacity)
	n.Parent = parent
	n.Sibling = sibling

	off := recordHeaderSize
	var boundary envelope.Envelope
	if count > 0 {
		boundary = getEnvelope(buf[off:], dim)
	}
	off += 16 * dim

	for i := 0; i < count; i++ {
		e := Entry{Envelope: getEnvelope(buf[off:], dim)}
		off += 16 * dim
		e.ID = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		e.Key = binary.LittleEndian.Uint64(buf[off+8 : off+16])
		off += 16
		n.entries = append(n.entries, e)
	}
	if count > 0 {
		n.boundary = &boundary
	}
	return n, flags, nil
}

func putEnvelope(buf []byte, e envelope.Envelope) {
	d := e.Dimension()
	for i := 0; i < d; i++ {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(e.Lower[i]))
		binary.LittleEndian.PutUint64(buf[8*(d+i):], math.Float64bits(e.Upper[i]))
	}
}

func getEnvelope(buf []byte, dim int) envelope.Envelope {
	e := envelope.Envelope{
		Lower: make([]float64, dim),
		Upper: make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		e.Lower[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		e.Upper[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*(dim+i):]))
	}
	return e
}
