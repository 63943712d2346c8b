package storage

import "errors"

// ErrStorageFull indicates that no free block is left in the image.
var ErrStorageFull = errors.New("storage full")

// AllocateRegion reserves a fresh single-block region and returns its id.
// Region ids are the index of the region's first block.
func (s *Store) AllocateRegion() (RegionID, error) {
	return s.allocateBlock(InvalidRegion)
}

// FreeRegion releases every block chained from the given region head. Block
// payloads are left as they are; a freed block is reusable once its header
// marks it free.
func (s *Store) FreeRegion(region RegionID) error {
	storeLogger.Debug("Freeing region %d", region)

	next := region
	for next != InvalidRegion {
		h, err := s.readBlockHeader(next)
		if err != nil {
			return err
		}
		if err := s.writeBlockHeader(next, blockHeader{
			inUse: false,
			prev:  InvalidRegion,
			next:  InvalidRegion,
		}); err != nil {
			return err
		}
		next = h.next
	}

	return nil
}

// allocateBlock finds, reserves and returns the first free block, linking it
// after prev. The scan is linear; a free-list cache could speed this up but
// the block counts involved keep it cheap.
func (s *Store) allocateBlock(prev RegionID) (RegionID, error) {
	for i := uint16(0); i < s.blockCount; i++ {
		idx := RegionID(i)
		h, err := s.readBlockHeader(idx)
		if err != nil {
			return InvalidRegion, err
		}
		if h.inUse {
			continue
		}

		if err := s.writeBlockHeader(idx, blockHeader{
			inUse: true,
			prev:  prev,
			next:  InvalidRegion,
		}); err != nil {
			return InvalidRegion, err
		}

		// Reused blocks still hold their previous payload. Directory scans
		// depend on fresh blocks reading as null entries, so clear it.
		if _, err := s.file.WriteAt(make([]byte, s.blockSize), s.payloadOffset(idx)); err != nil {
			return InvalidRegion, err
		}

		storeLogger.Trace("Allocated block %d (prev=%d)", idx, prev)
		return idx, nil
	}

	storeLogger.Warn("Out of blocks: all %d in use", s.blockCount)
	return InvalidRegion, ErrStorageFull
}

// jumpToBlock moves the cursor to the start of block i's payload and caches
// its header. The region position is left untouched; only JumpToRegion resets
// it.
func (s *Store) jumpToBlock(i RegionID) error {
	h, err := s.readBlockHeader(i)
	if err != nil {
		return err
	}
	s.currentIndex = i
	s.current = h
	s.posInBlock = 0
	return nil
}
