package rtree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
	"github.com/Geomatys/geotoolkit-sub067/store"
)

// Tree stream constants.
const (
	// StreamVersion is the current tree stream format version.
	StreamVersion uint32 = 1

	streamHeaderSize = 44
)

// StreamMagic identifies a serialized tree: "GTKT".
var StreamMagic = [4]byte{'G', 'T', 'K', 'T'}

// Errors reported while reading a tree stream.
var (
	ErrBadStream     = errors.New("rtree: not a tree stream")
	ErrStreamVersion = errors.New("rtree: unsupported tree stream version")
	ErrStreamCorrupt = errors.New("rtree: corrupted tree stream")
)

// Tree stream layout (little endian):
//   - Bytes 0-3:   magic
//   - Bytes 4-7:   version (uint32)
//   - Byte 8:      variant
//   - Byte 9:      CRS identifier length
//   - Bytes 10-11: dimension (uint16)
//   - Bytes 12-13: max entries M (uint16)
//   - Bytes 14-15: min entries m (uint16)
//   - Bytes 16-23: element count (uint64)
//   - Bytes 24-31: next element identifier (int64)
//   - Bytes 32-35: root node id (uint32)
//   - Bytes 36-39: node count (uint32)
//   - Bytes 40-41: Hilbert curve order (uint16), 0 unless Hilbert
//   - Bytes 42-43: reserved
//   - CRS identifier bytes
//   - 1 byte domain flag, then 2*d float64 when set
//   - per node: node id (uint32) and its store record
//   - CRC32 of everything before it

// TreeWriter serializes whole trees to a stream. A writer may be reused,
// also on another stream after Reset.
type TreeWriter struct {
	w io.Writer
}

// NewTreeWriter creates a writer on w.
func NewTreeWriter(w io.Writer) *TreeWriter {
	return &TreeWriter{w: w}
}

// Reset makes the writer write to w.
func (tw *TreeWriter) Reset(w io.Writer) {
	tw.w = w
}

// Write serializes t: its parameters, CRS and every node reachable from the
// root.
func (tw *TreeWriter) Write(t *Tree) error {
	var nodes []*store.Node
	if t.root != store.NoNode {
		var err error
		if nodes, err = t.nodes(); err != nil {
			return err
		}
	}

	crc := crc32.NewIEEE()
	w := io.MultiWriter(tw.w, crc)
	crs := t.opts.CRS
	dim := crs.Dimension

	head := make([]byte, streamHeaderSize)
	copy(head[0:4], StreamMagic[:])
	binary.LittleEndian.PutUint32(head[4:8], StreamVersion)
	head[8] = uint8(t.opts.Variant)
	head[9] = uint8(len(crs.Identifier))
	binary.LittleEndian.PutUint16(head[10:12], uint16(dim))
	binary.LittleEndian.PutUint16(head[12:14], uint16(t.opts.MaxEntries))
	binary.LittleEndian.PutUint16(head[14:16], uint16(t.opts.MinEntries))
	binary.LittleEndian.PutUint64(head[16:24], uint64(t.count))
	binary.LittleEndian.PutUint64(head[24:32], uint64(t.nextID))
	binary.LittleEndian.PutUint32(head[32:36], uint32(t.root))
	binary.LittleEndian.PutUint32(head[36:40], uint32(len(nodes)))
	binary.LittleEndian.PutUint16(head[40:42], uint16(t.hilbertOrder()))
	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := io.WriteString(w, crs.Identifier); err != nil {
		return err
	}

	domain := []byte{0}
	if crs.HasDomain() {
		domain = make([]byte, 1+16*dim)
		domain[0] = 1
		for i := 0; i < dim; i++ {
			binary.LittleEndian.PutUint64(domain[1+8*i:], math.Float64bits(crs.Domain.Lower[i]))
			binary.LittleEndian.PutUint64(domain[1+8*(dim+i):], math.Float64bits(crs.Domain.Upper[i]))
		}
	}
	if _, err := w.Write(domain); err != nil {
		return err
	}

	var id [4]byte
	for _, n := range nodes {
		rec, err := store.EncodeNode(n, dim, t.opts.MaxEntries)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(id[:], uint32(n.ID))
		if _, err := w.Write(id[:]); err != nil {
			return err
		}
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	_, err := tw.w.Write(sum[:])
	return err
}

// nodes returns every node of the tree, parents before children.
func (t *Tree) nodes() ([]*store.Node, error) {
	var out []*store.Node
	queue := []store.NodeID{t.root}
	for len(queue) > 0 {
		n, err := t.store.Read(queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		out = append(out, n)
		if !n.IsLeaf() {
			for i := 0; i < n.Len(); i++ {
				queue = append(queue, n.Entry(i).Child())
			}
		}
	}
	return out, nil
}

// TreeReader rebuilds trees written by a TreeWriter. It reads exactly one
// tree per call, so consecutive trees of one stream can be read in turn.
type TreeReader struct {
	r   io.Reader
	crc hash.Hash32
}

// NewTreeReader creates a reader on r.
func NewTreeReader(r io.Reader) *TreeReader {
	return &TreeReader{r: r, crc: crc32.NewIEEE()}
}

// Reset makes the reader read from r.
func (tr *TreeReader) Reset(r io.Reader) {
	tr.r = r
	tr.crc.Reset()
}

func (tr *TreeReader) read(buf []byte) error {
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %v", ErrStreamCorrupt, io.ErrUnexpectedEOF)
		}
		return err
	}
	tr.crc.Write(buf)
	return nil
}

// Read rebuilds the next tree of the stream. The variant, capacities and CRS
// come from the stream; opts supplies the store, which must be empty, and the
// logger. mapper must know the elements of the serialized tree.
func (tr *TreeReader) Read(mapper TreeElementMapper, opts Options) (*Tree, error) {
	tr.crc.Reset()

	head := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(tr.r, head); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
	}
	tr.crc.Write(head)
	var magic [4]byte
	copy(magic[:], head[0:4])
	if magic != StreamMagic {
		return nil, ErrBadStream
	}
	if v := binary.LittleEndian.Uint32(head[4:8]); v == 0 || v > StreamVersion {
		return nil, fmt.Errorf("%w: %d", ErrStreamVersion, v)
	}

	opts.Variant = Variant(head[8])
	dim := int(binary.LittleEndian.Uint16(head[10:12]))
	opts.MaxEntries = int(binary.LittleEndian.Uint16(head[12:14]))
	opts.MinEntries = int(binary.LittleEndian.Uint16(head[14:16]))
	count := binary.LittleEndian.Uint64(head[16:24])
	nextID := int64(binary.LittleEndian.Uint64(head[24:32]))
	root := store.NodeID(binary.LittleEndian.Uint32(head[32:36]))
	nodeCount := int(binary.LittleEndian.Uint32(head[36:40]))
	if order := int(binary.LittleEndian.Uint16(head[40:42])); order > 0 {
		opts.HilbertOrder = order
	}
	if dim < 2 || dim > envelope.MaxDimension {
		return nil, fmt.Errorf("%w: dimension %d", ErrStreamCorrupt, dim)
	}

	ident := make([]byte, head[9])
	if err := tr.read(ident); err != nil {
		return nil, err
	}
	crs := envelope.CRS{Identifier: string(ident), Dimension: dim}
	flag := make([]byte, 1)
	if err := tr.read(flag); err != nil {
		return nil, err
	}
	if flag[0] == 1 {
		buf := make([]byte, 16*dim)
		if err := tr.read(buf); err != nil {
			return nil, err
		}
		crs.Domain = envelope.Envelope{Lower: make([]float64, dim), Upper: make([]float64, dim)}
		for i := 0; i < dim; i++ {
			crs.Domain.Lower[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
			crs.Domain.Upper[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*(dim+i):]))
		}
	}
	opts.CRS = crs
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
	}

	recSize := store.RecordSize(dim, opts.MaxEntries)
	var nodes []*store.Node
	idBuf := make([]byte, 4)
	rec := make([]byte, recSize)
	for i := 0; i < nodeCount; i++ {
		if err := tr.read(idBuf); err != nil {
			return nil, err
		}
		if err := tr.read(rec); err != nil {
			return nil, err
		}
		id := store.NodeID(binary.LittleEndian.Uint32(idBuf))
		n, err := store.DecodeNode(rec, id, dim, opts.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrStreamCorrupt, id, err)
		}
		nodes = append(nodes, n)
	}

	sum := tr.crc.Sum32()
	trailer := make([]byte, 4)
	if _, err := io.ReadFull(tr.r, trailer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
	}
	if binary.LittleEndian.Uint32(trailer) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrStreamCorrupt)
	}

	t, err := New(mapper, opts)
	if err != nil {
		return nil, err
	}
	if t.root != store.NoNode || t.store.Count() != 0 {
		return nil, fmt.Errorf("%w: target store is not empty", ErrIncompatibleStore)
	}
	if err := t.importNodes(nodes, root); err != nil {
		if rerr := t.store.Reset(); rerr != nil {
			t.log.Warn("discarding partial import", "error", rerr)
		}
		return nil, err
	}
	t.count = int(count)
	t.nextID = nextID
	if err := t.saveMeta(); err != nil {
		return nil, err
	}
	t.log.Debug("tree read", "nodes", len(nodes), "elements", t.count, "height", t.height)
	return t, nil
}

// importNodes copies nodes, listed parents first, into the empty store of t
// under fresh ids.
func (t *Tree) importNodes(nodes []*store.Node, root store.NodeID) error {
	if len(nodes) == 0 {
		if root != store.NoNode {
			return fmt.Errorf("%w: root %d without nodes", ErrStreamCorrupt, root)
		}
		return nil
	}

	remap := make(map[store.NodeID]*store.Node, len(nodes))
	for _, n := range nodes {
		if _, dup := remap[n.ID]; dup {
			return fmt.Errorf("%w: node %d listed twice", ErrStreamCorrupt, n.ID)
		}
		fresh, err := t.store.Allocate(n.IsLeaf())
		if err != nil {
			return err
		}
		remap[n.ID] = fresh
	}
	if _, ok := remap[root]; !ok {
		return fmt.Errorf("%w: root %d not listed", ErrStreamCorrupt, root)
	}

	depth := map[store.NodeID]int{root: 1}
	height := 0
	for _, n := range nodes {
		fresh := remap[n.ID]
		if n.ID != root {
			parent, ok := remap[n.Parent]
			if !ok {
				return fmt.Errorf("%w: node %d has unknown parent %d", ErrStreamCorrupt, n.ID, n.Parent)
			}
			fresh.Parent = parent.ID
		}
		entries := n.Entries()
		if !n.IsLeaf() {
			for i := range entries {
				old := entries[i].Child()
				child, ok := remap[old]
				if !ok {
					return fmt.Errorf("%w: node %d has unknown child %d", ErrStreamCorrupt, n.ID, old)
				}
				entries[i].ID = int64(child.ID)
				depth[old] = depth[n.ID] + 1
			}
		}
		if err := fresh.SetEntries(entries); err != nil {
			return err
		}
		if err := t.store.Write(fresh); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if n.IsLeaf() && depth[n.ID] > height {
			height = depth[n.ID]
		}
	}
	t.root = remap[root].ID
	t.height = height
	return nil
}
