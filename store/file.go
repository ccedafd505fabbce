package store

import (
	"fmt"
	"io"
	"os"

	"github.com/Geomatys/geotoolkit-sub067/logging"
)

// FileOptions configures a file-backed store.
type FileOptions struct {
	// Dimension and Capacity describe the record layout of a new file. When
	// opening an existing file they may be zero; otherwise they must match.
	Dimension int
	Capacity  int

	CreateIfNew bool // Create the file if it doesn't exist
	ReadOnly    bool // Open in read-only mode
	SyncOnWrite bool // Sync to disk after each record write

	Logger logging.Logger
}

// DefaultFileOptions returns the default file store options.
func DefaultFileOptions() FileOptions {
	return FileOptions{CreateIfNew: true}
}

// File is a Store keeping fixed-size node records in a file, after a
// HeaderSize header. Record n lives at HeaderSize + (n-1)*RecordSize.
//
// Freed records are rewritten as free records chained through their sibling
// field, the chain head being kept in the header. A record is always
// rewritten before the free list points at it, so an interrupted run can leak
// records but never hands out a live one.
type File struct {
	file        *os.File
	path        string
	header      *FileHeader
	free        *FreeList
	readOnly    bool
	syncOnWrite bool
	closed      bool
	log         logging.Logger
}

// OpenFile opens or creates a file-backed store.
func OpenFile(path string, opts FileOptions) (*File, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	f := &File{
		path:        path,
		free:        NewFreeList(),
		readOnly:    opts.ReadOnly,
		syncOnWrite: opts.SyncOnWrite,
		log:         opts.Logger.WithFields("store", path),
	}

	_, err := os.Stat(path)
	exists := err == nil
	if !exists && !opts.CreateIfNew {
		return nil, opError("open", NoNode, os.ErrNotExist)
	}
	if !exists && opts.ReadOnly {
		return nil, opError("open", NoNode, ErrReadOnly)
	}

	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	} else if !exists {
		flags |= os.O_CREATE
	}
	f.file, err = os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, opError("open", NoNode, err)
	}

	if exists {
		err = f.loadExisting(opts)
	} else {
		err = f.initializeNew(opts)
	}
	if err != nil {
		f.file.Close()
		if !exists {
			os.Remove(path)
		}
		return nil, opError("open", NoNode, err)
	}

	f.log.Info("index file opened",
		"records", f.header.Records,
		"free", f.free.Len(),
		"dimension", f.header.Dimension,
		"capacity", f.header.Capacity)
	return f, nil
}

func (f *File) initializeNew(opts FileOptions) error {
	if err := checkLayout(opts.Dimension, opts.Capacity); err != nil {
		return err
	}
	f.header = NewFileHeader(opts.Dimension, opts.Capacity)
	if err := f.writeHeader(); err != nil {
		return err
	}
	return f.file.Sync()
}

func (f *File) loadExisting(opts FileOptions) error {
	buf := make([]byte, HeaderSize)
	if _, err := f.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	h := &FileHeader{}
	if err := h.Deserialize(buf); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	if opts.Dimension != 0 && opts.Dimension != h.Dimension {
		return fmt.Errorf("%w: file has dimension %d, want %d", ErrLayout, h.Dimension, opts.Dimension)
	}
	if opts.Capacity != 0 && opts.Capacity != h.Capacity {
		return fmt.Errorf("%w: file has capacity %d, want %d", ErrLayout, h.Capacity, opts.Capacity)
	}
	f.header = h
	return f.loadFreeList()
}

// loadFreeList walks the chain of free records starting at the header's head.
func (f *File) loadFreeList() error {
	var chain []NodeID
	for id := f.header.FreeHead; id != NoNode; {
		if uint32(len(chain)) > f.header.Records {
			return fmt.Errorf("%w: free list cycle", ErrCorruptRecord)
		}
		n, flags, err := f.readRecord(id)
		if err != nil {
			return err
		}
		if flags&FlagFree == 0 {
			return fmt.Errorf("%w: node %d on free list is live", ErrCorruptRecord, id)
		}
		chain = append(chain, id)
		id = n.Sibling
	}
	f.free.Clear()
	for i := len(chain) - 1; i >= 0; i-- {
		f.free.Push(chain[i])
	}
	if uint32(len(chain)) != f.header.FreeCount {
		f.log.Warn("free list length disagrees with header",
			"header", f.header.FreeCount, "chain", len(chain))
		f.header.FreeCount = uint32(len(chain))
	}
	f.log.Debug("free list restored", "free", len(chain))
	return nil
}

func (f *File) writeHeader() error {
	f.header.FreeHead = f.free.Head()
	f.header.FreeCount = uint32(f.free.Len())
	buf, err := f.header.Serialize()
	if err != nil {
		return err
	}
	_, err = f.file.WriteAt(buf, 0)
	return err
}

func (f *File) offset(id NodeID) int64 {
	return HeaderSize + int64(id-1)*int64(f.header.RecordSize)
}

func (f *File) readRecord(id NodeID) (*Node, uint8, error) {
	if id == NoNode || uint32(id) > f.header.Records {
		return nil, 0, ErrNoSuchNode
	}
	buf := make([]byte, f.header.RecordSize)
	n, err := f.file.ReadAt(buf, f.offset(id))
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if n < len(buf) {
		return nil, 0, fmt.Errorf("%w: short read of %d bytes", ErrCorruptRecord, n)
	}
	return decodeRecord(buf, id, f.header.Dimension, f.header.Capacity)
}

func (f *File) writeRecord(id NodeID, buf []byte) error {
	if _, err := f.file.WriteAt(buf, f.offset(id)); err != nil {
		return err
	}
	if f.syncOnWrite {
		return f.file.Sync()
	}
	return nil
}

func (f *File) checkWritable(op string, id NodeID) error {
	if f.closed {
		return opError(op, id, ErrClosed)
	}
	if f.readOnly {
		return opError(op, id, ErrReadOnly)
	}
	return nil
}

// Allocate implements Store.
func (f *File) Allocate(leaf bool) (*Node, error) {
	if err := f.checkWritable("allocate", NoNode); err != nil {
		return nil, err
	}
	id, reused := f.free.Pop()
	if !reused {
		id = NodeID(f.header.Records + 1)
	}
	n := NewNode(id, leaf, f.header.Capacity)
	buf, err := EncodeNode(n, f.header.Dimension, f.header.Capacity)
	if err == nil {
		if !reused {
			f.header.Records++
		}
		err = f.writeRecord(id, buf)
	}
	if err != nil {
		if reused {
			f.free.Push(id)
		}
		return nil, opError("allocate", id, err)
	}
	return n, nil
}

// Read implements Store.
func (f *File) Read(id NodeID) (*Node, error) {
	if f.closed {
		return nil, opError("read", id, ErrClosed)
	}
	n, flags, err := f.readRecord(id)
	if err != nil {
		return nil, opError("read", id, err)
	}
	if flags&FlagFree != 0 {
		return nil, opError("read", id, ErrNoSuchNode)
	}
	return n, nil
}

// Write implements Store.
func (f *File) Write(n *Node) error {
	if err := f.checkWritable("write", n.ID); err != nil {
		return err
	}
	if n.ID == NoNode || uint32(n.ID) > f.header.Records || f.free.Contains(n.ID) {
		return opError("write", n.ID, ErrNoSuchNode)
	}
	buf, err := EncodeNode(n, f.header.Dimension, f.header.Capacity)
	if err != nil {
		return opError("write", n.ID, err)
	}
	if err := f.writeRecord(n.ID, buf); err != nil {
		return opError("write", n.ID, err)
	}
	return nil
}

// Free implements Store.
func (f *File) Free(id NodeID) error {
	if err := f.checkWritable("free", id); err != nil {
		return err
	}
	if id == NoNode || uint32(id) > f.header.Records {
		return opError("free", id, ErrNoSuchNode)
	}
	if f.free.Contains(id) {
		return opError("free", id, ErrAlreadyFree)
	}
	buf := encodeFree(f.free.Head(), f.header.Dimension, f.header.Capacity)
	if err := f.writeRecord(id, buf); err != nil {
		return opError("free", id, err)
	}
	f.free.Push(id)
	return nil
}

// Reset implements Store. The file is truncated to its header.
func (f *File) Reset() error {
	if err := f.checkWritable("reset", NoNode); err != nil {
		return err
	}
	if err := f.file.Truncate(HeaderSize); err != nil {
		return opError("reset", NoNode, err)
	}
	f.free.Clear()
	f.header.Records = 0
	f.header.Meta = Meta{}
	if err := f.writeHeader(); err != nil {
		return opError("reset", NoNode, err)
	}
	return nil
}

// Meta implements Store.
func (f *File) Meta() Meta { return f.header.Meta.Clone() }

// SetMeta implements Store. The metadata reaches the file on Sync or Close.
func (f *File) SetMeta(m Meta) error {
	if err := f.checkWritable("set meta", NoNode); err != nil {
		return err
	}
	if len(m.CRS) > maxCRSLength {
		return opError("set meta", NoNode, fmt.Errorf("%w: CRS identifier of %d bytes", ErrLayout, len(m.CRS)))
	}
	f.header.Meta = m.Clone()
	return nil
}

// Dimension implements Store.
func (f *File) Dimension() int { return f.header.Dimension }

// Capacity implements Store.
func (f *File) Capacity() int { return f.header.Capacity }

// Count implements Store.
func (f *File) Count() int { return int(f.header.Records) - f.free.Len() }

// Path returns the path of the backing file.
func (f *File) Path() string { return f.path }

// Sync writes the header and flushes the file to disk.
func (f *File) Sync() error {
	if f.closed {
		return opError("sync", NoNode, ErrClosed)
	}
	if f.readOnly {
		return nil
	}
	if err := f.writeHeader(); err != nil {
		return opError("sync", NoNode, err)
	}
	if err := f.file.Sync(); err != nil {
		return opError("sync", NoNode, err)
	}
	return nil
}

// Close flushes the header and closes the file.
func (f *File) Close() error {
	if f.closed {
		return opError("close", NoNode, ErrClosed)
	}
	f.closed = true
	if !f.readOnly {
		if err := f.writeHeader(); err != nil {
			f.file.Close()
			return opError("close", NoNode, err)
		}
		if err := f.file.Sync(); err != nil {
			f.file.Close()
			return opError("close", NoNode, err)
		}
	}
	f.log.Info("index file closed", "records", f.header.Records, "free", f.free.Len())
	return f.file.Close()
}
