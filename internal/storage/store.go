// Package storage implements a block-based storage engine persisted inside a
// single image file. Space is handed out as regions, byte streams backed by
// doubly-linked chains of fixed-size blocks, so that files can grow and shrink
// without relocating data. One region is active at a time; callers switch the
// cursor between regions explicitly.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	"blockvfs/internal/logging"
)

var (
	storeLogger = logging.GetLogger().WithPrefix("storage")
)

// RegionID identifies a region by the index of its first block.
type RegionID uint16

const (
	// InvalidRegion marks the absence of a region or neighbouring block.
	InvalidRegion RegionID = 0xFFFF

	// DefaultBlockSize is the payload size of a block in a freshly created image.
	DefaultBlockSize uint16 = 10
	// DefaultBlockCount is the number of blocks in a freshly created image.
	DefaultBlockCount uint16 = 128

	// blockHeaderSize is the per-block header: in-use marker plus two links.
	blockHeaderSize = 1 + 2 + 2
	// fileHeaderSize is the image header: block size and block count.
	fileHeaderSize = 2 + 2
)

type blockHeader struct {
	inUse bool
	prev  RegionID
	next  RegionID
}

// Store is the storage engine for one image file. It owns the image handle,
// the active geometry and the single region cursor.
type Store struct {
	file *os.File
	path string

	blockSize  uint16
	blockCount uint16

	// Region cursor. current caches the header of the block the cursor sits
	// in; posInBlock may equal blockSize, meaning the cursor rests just past
	// the last payload byte and hops lazily on the next access.
	currentIndex RegionID
	current      blockHeader
	posInBlock   int
	posInRegion  int64
}

// Open opens the image file at path, creating it with the given geometry if it
// does not exist. When the image already exists its stored geometry wins and
// the arguments are ignored.
func Open(path string, blockSize, blockCount uint16) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if os.IsNotExist(err) {
		storeLogger.Info("No image at %s, creating new one (%d blocks of %d bytes)",
			path, blockCount, blockSize)
		if err = createImage(path, blockSize, blockCount); err != nil {
			return nil, err
		}
		f, err = os.OpenFile(path, os.O_RDWR, 0600)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	s := &Store{
		file:         f,
		path:         path,
		currentIndex: InvalidRegion,
	}

	hdr := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	s.blockSize = binary.LittleEndian.Uint16(hdr[0:2])
	s.blockCount = binary.LittleEndian.Uint16(hdr[2:4])

	if s.blockSize == 0 || s.blockCount == 0 {
		f.Close()
		return nil, fmt.Errorf("image %s has invalid geometry: %d blocks of %d bytes",
			path, s.blockCount, s.blockSize)
	}

	storeLogger.Debug("Opened image %s: %d blocks of %d bytes", path, s.blockCount, s.blockSize)
	return s, nil
}

// createImage writes a fresh image: the header, block 0 reserved in-use for
// the root directory region, and the remaining blocks free. Payloads are
// zero-filled; directory scans rely on that.
func createImage(path string, blockSize, blockCount uint16) error {
	if blockSize == 0 || blockCount == 0 {
		return fmt.Errorf("invalid geometry: %d blocks of %d bytes", blockCount, blockSize)
	}
	if RegionID(blockCount-1) == InvalidRegion {
		return fmt.Errorf("block count %d collides with the invalid-block sentinel", blockCount)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create image %s: %w", path, err)
	}
	defer f.Close()

	hdr := make([]byte, fileHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], blockSize)
	binary.LittleEndian.PutUint16(hdr[2:4], blockCount)
	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("failed to write image header: %w", err)
	}

	record := make([]byte, blockHeaderSize+int(blockSize))
	writeHeaderBytes(record, blockHeader{inUse: true, prev: InvalidRegion, next: InvalidRegion})
	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("failed to write root block: %w", err)
	}

	writeHeaderBytes(record, blockHeader{inUse: false, prev: InvalidRegion, next: InvalidRegion})
	for i := uint16(1); i < blockCount; i++ {
		if _, err := f.Write(record); err != nil {
			return fmt.Errorf("failed to write block %d: %w", i, err)
		}
	}

	return nil
}

// Close closes the image file.
func (s *Store) Close() error {
	storeLogger.Debug("Closing image %s", s.path)
	return s.file.Close()
}

// BlockSize returns the payload size of each block.
func (s *Store) BlockSize() uint16 { return s.blockSize }

// BlockCount returns the number of blocks in the image.
func (s *Store) BlockCount() uint16 { return s.blockCount }

// Position returns the cursor's offset within the active region.
func (s *Store) Position() int64 { return s.posInRegion }

// InUseBlocks counts the blocks currently marked in use.
func (s *Store) InUseBlocks() (int, error) {
	n := 0
	for i := uint16(0); i < s.blockCount; i++ {
		h, err := s.readBlockHeader(RegionID(i))
		if err != nil {
			return 0, err
		}
		if h.inUse {
			n++
		}
	}
	return n, nil
}

// blockOffset returns the absolute image offset of block i's header.
func (s *Store) blockOffset(i RegionID) int64 {
	return fileHeaderSize + int64(i)*(int64(s.blockSize)+blockHeaderSize)
}

// payloadOffset returns the absolute image offset of block i's payload.
func (s *Store) payloadOffset(i RegionID) int64 {
	return s.blockOffset(i) + blockHeaderSize
}

func (s *Store) readBlockHeader(i RegionID) (blockHeader, error) {
	buf := make([]byte, blockHeaderSize)
	if _, err := s.file.ReadAt(buf, s.blockOffset(i)); err != nil {
		return blockHeader{}, fmt.Errorf("failed to read header of block %d: %w", i, err)
	}
	return blockHeader{
		inUse: buf[0] != 0,
		prev:  RegionID(binary.LittleEndian.Uint16(buf[1:3])),
		next:  RegionID(binary.LittleEndian.Uint16(buf[3:5])),
	}, nil
}

func (s *Store) writeBlockHeader(i RegionID, h blockHeader) error {
	buf := make([]byte, blockHeaderSize)
	writeHeaderBytes(buf, h)
	if _, err := s.file.WriteAt(buf, s.blockOffset(i)); err != nil {
		return fmt.Errorf("failed to write header of block %d: %w", i, err)
	}
	return nil
}

func writeHeaderBytes(buf []byte, h blockHeader) {
	if h.inUse {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.prev))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(h.next))
}
