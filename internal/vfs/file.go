package vfs

import (
	"encoding/binary"
	"errors"
	"io"

	"blockvfs/internal/storage"
)

// Flag is a bitset of open options.
type Flag int

const (
	// FlagCreate creates the file if it does not exist.
	FlagCreate Flag = 1 << iota
	// FlagExcl fails the open when the file already exists.
	FlagExcl
	// FlagTrunc discards the file's contents on open.
	FlagTrunc
	// FlagAppend places the cursor at the end of the file.
	FlagAppend
)

// maxDescriptors is the size of the descriptor table.
const maxDescriptors = 256

// descriptor is the in-memory state of one open file.
type descriptor struct {
	content  storage.RegionID
	metadata storage.RegionID
	length   int64
	cursor   int64
}

// Open opens the file named by path and returns a descriptor for it. Without
// FlagCreate the file must already exist; with FlagExcl it must not.
func (fs *FileSystem) Open(path string, flags Flag) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	vfsLogger.Debug("Open %s (flags=%#x)", path, flags)

	fd := -1
	for i := 0; i < maxDescriptors; i++ {
		if fs.descriptors[i] == nil {
			fd = i
			break
		}
	}
	if fd == -1 {
		return -1, newError(OpOpen, path, ErrDescriptorsFull)
	}

	fs.invalidateCursor()

	parent, name, err := fs.navigate(path)
	if err != nil {
		return -1, newError(OpOpen, path, err)
	}

	var d descriptor
	e, pos, err := fs.findEntry(parent, kindFile, name)
	switch {
	case err == nil:
		if flags&FlagExcl != 0 {
			return -1, newError(OpOpen, path, ErrExists)
		}
		length, _, err := fs.readFileMetadata(e.metadata)
		if err != nil {
			return -1, newError(OpOpen, path, err)
		}
		d = descriptor{content: e.content, metadata: e.metadata, length: length}
	case errors.Is(err, ErrNotFound):
		if flags&FlagCreate == 0 {
			return -1, newError(OpOpen, path, ErrNotFound)
		}
		e, pos, err = fs.createFile(parent, name)
		if err != nil {
			return -1, newError(OpOpen, path, err)
		}
		d = descriptor{content: e.content, metadata: e.metadata}
	default:
		return -1, newError(OpOpen, path, err)
	}

	if flags&FlagTrunc != 0 {
		if err := fs.store.FreeRegion(d.content); err != nil {
			return -1, newError(OpOpen, path, err)
		}
		fresh, err := fs.store.AllocateRegion()
		if err != nil {
			return -1, newError(OpOpen, path, err)
		}
		if err := fs.rewriteEntryContent(parent, pos, fresh); err != nil {
			return -1, newError(OpOpen, path, err)
		}
		d.content = fresh
		d.length = 0
		if err := fs.writeFileLength(d.metadata, 0); err != nil {
			return -1, newError(OpOpen, path, err)
		}
	}

	if flags&FlagAppend != 0 {
		d.cursor = d.length
	}

	fs.descriptors[fd] = &d
	return fd, nil
}

// createFile allocates content and metadata regions for a new empty file and
// records it in the parent directory. Returns the new entry and its position
// in the parent region.
func (fs *FileSystem) createFile(parent storage.RegionID, name string) (dirEntry, int64, error) {
	if !validName(name) {
		return dirEntry{}, 0, ErrInvalidPath
	}

	content, err := fs.store.AllocateRegion()
	if err != nil {
		return dirEntry{}, 0, err
	}
	metadata, err := fs.store.AllocateRegion()
	if err != nil {
		fs.store.FreeRegion(content)
		return dirEntry{}, 0, err
	}

	if err := fs.writeFileMetadata(metadata, 0, name); err != nil {
		fs.store.FreeRegion(content)
		fs.store.FreeRegion(metadata)
		return dirEntry{}, 0, err
	}

	e := dirEntry{kind: kindFile, metadata: metadata, content: content}
	if err := fs.insertEntry(parent, e); err != nil {
		fs.store.FreeRegion(content)
		fs.store.FreeRegion(metadata)
		return dirEntry{}, 0, err
	}

	pos, err := fs.entryPosition(parent, metadata)
	if err != nil {
		return dirEntry{}, 0, err
	}
	return e, pos, nil
}

// entryPosition locates the entry referring to the given metadata region
// within the directory and returns its byte position.
func (fs *FileSystem) entryPosition(dir, metadata storage.RegionID) (int64, error) {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return 0, err
	}

	buf := make([]byte, entrySize)
	for {
		pos := fs.store.Position()
		n, err := fs.store.Read(buf)
		if err != nil {
			return 0, err
		}
		if n < entrySize {
			return 0, ErrNotFound
		}
		e := decodeEntry(buf)
		if e.kind == kindNull {
			return 0, ErrNotFound
		}
		if e.kind != kindUnused && e.metadata == metadata {
			return pos, nil
		}
	}
}

// rewriteEntryContent overwrites the content field of the directory entry at
// pos with a new region reference.
func (fs *FileSystem) rewriteEntryContent(dir storage.RegionID, pos int64, content storage.RegionID) error {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return err
	}
	fs.store.Seek(pos + 3)
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(content))
	_, err := fs.store.Write(buf)
	return err
}

// Close releases the descriptor.
func (fs *FileSystem) Close(fd int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.descriptorFor(fd); err != nil {
		return newError(OpClose, "", err)
	}
	fs.descriptors[fd] = nil
	if fs.lastUsed == fd {
		fs.invalidateCursor()
	}
	return nil
}

// Read copies up to len(p) bytes from the file into p, starting at the
// descriptor's cursor. Reads never go past the file's length; at the end of
// the file it returns 0, nil.
func (fs *FileSystem) Read(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptorFor(fd)
	if err != nil {
		return 0, newError(OpRead, "", err)
	}

	remaining := d.length - d.cursor
	if remaining <= 0 || len(p) == 0 {
		return 0, nil
	}
	n := int64(len(p))
	if n > remaining {
		n = remaining
	}

	if err := fs.jumpToFile(fd, d); err != nil {
		return 0, newError(OpRead, "", err)
	}

	got, err := fs.store.Read(p[:n])
	d.cursor += int64(got)
	if err != nil {
		fs.invalidateCursor()
		return got, newError(OpRead, "", err)
	}
	return got, nil
}

// Write copies len(p) bytes from p into the file at the descriptor's cursor,
// growing the file as needed. When the image runs out of blocks the write is
// short and the error wraps storage.ErrStorageFull.
func (fs *FileSystem) Write(fd int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptorFor(fd)
	if err != nil {
		return 0, newError(OpWrite, "", err)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := fs.jumpToFile(fd, d); err != nil {
		return 0, newError(OpWrite, "", err)
	}

	n, werr := fs.store.Write(p)
	d.cursor += int64(n)

	if d.cursor > d.length {
		d.length = d.cursor
		if err := fs.writeFileLength(d.metadata, d.length); err != nil {
			fs.invalidateCursor()
			return n, newError(OpWrite, "", err)
		}
		fs.invalidateCursor()
	}

	if werr != nil {
		fs.invalidateCursor()
		return n, newError(OpWrite, "", werr)
	}
	return n, nil
}

// Seek moves the descriptor's cursor. The new position is clamped to the
// file's current bounds and returned. Whence is one of io.SeekStart,
// io.SeekCurrent or io.SeekEnd.
func (fs *FileSystem) Seek(fd int, offset int64, whence int) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, err := fs.descriptorFor(fd)
	if err != nil {
		return 0, newError(OpSeek, "", err)
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = d.cursor
	case io.SeekEnd:
		base = d.length
	default:
		return d.cursor, newError(OpSeek, "", ErrBadWhence)
	}

	pos := base + offset
	if pos < 0 {
		pos = 0
	}
	if pos > d.length {
		pos = d.length
	}
	d.cursor = pos

	// The region cursor no longer matches this descriptor's position.
	if fs.lastUsed == fd {
		fs.invalidateCursor()
	}
	return pos, nil
}

// descriptorFor validates fd and returns its descriptor.
func (fs *FileSystem) descriptorFor(fd int) (*descriptor, error) {
	if fd < 0 || fd >= maxDescriptors || fs.descriptors[fd] == nil {
		return nil, ErrBadDescriptor
	}
	return fs.descriptors[fd], nil
}

// jumpToFile positions the region cursor for the descriptor unless it is
// already there from the previous operation on the same descriptor.
func (fs *FileSystem) jumpToFile(fd int, d *descriptor) error {
	if fs.lastUsed == fd {
		return nil
	}
	if err := fs.store.JumpToRegion(d.content); err != nil {
		return err
	}
	fs.store.Seek(d.cursor)
	fs.lastUsed = fd
	return nil
}
