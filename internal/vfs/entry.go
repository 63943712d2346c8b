package vfs

import (
	"encoding/binary"
	"fmt"

	"blockvfs/internal/storage"
)

// entryKind is the first byte of a directory entry.
type entryKind uint8

const (
	// kindNull terminates the directory scan; nothing was ever stored here.
	kindNull entryKind = 0
	// kindUnused marks a tombstoned entry whose slot may be reused.
	kindUnused entryKind = 1
	kindFile   entryKind = 2
	kindDir    entryKind = 3

	// entrySize is the on-disk size of a directory entry: kind plus two
	// region references.
	entrySize = 5

	// fileLengthSize is the on-disk size of a file's length field.
	fileLengthSize = 8

	// maxNameLen is the longest name a metadata record can hold.
	maxNameLen = 0xFF
)

// dirEntry is one 5-byte record in a directory region.
type dirEntry struct {
	kind     entryKind
	metadata storage.RegionID
	content  storage.RegionID
}

func encodeEntry(e dirEntry) []byte {
	buf := make([]byte, entrySize)
	buf[0] = byte(e.kind)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(e.metadata))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(e.content))
	return buf
}

func decodeEntry(buf []byte) dirEntry {
	return dirEntry{
		kind:     entryKind(buf[0]),
		metadata: storage.RegionID(binary.LittleEndian.Uint16(buf[1:3])),
		content:  storage.RegionID(binary.LittleEndian.Uint16(buf[3:5])),
	}
}

// writeFileMetadata writes a file's metadata record at the start of the given
// region: length, name length and name.
func (fs *FileSystem) writeFileMetadata(region storage.RegionID, length int64, name string) error {
	if len(name) > maxNameLen {
		return ErrNameTooLong
	}
	if err := fs.store.JumpToRegion(region); err != nil {
		return err
	}
	buf := make([]byte, fileLengthSize+1+len(name))
	binary.LittleEndian.PutUint64(buf[0:fileLengthSize], uint64(length))
	buf[fileLengthSize] = byte(len(name))
	copy(buf[fileLengthSize+1:], name)
	_, err := fs.store.Write(buf)
	return err
}

// writeFileLength rewrites only the length field of a file's metadata record.
func (fs *FileSystem) writeFileLength(region storage.RegionID, length int64) error {
	if err := fs.store.JumpToRegion(region); err != nil {
		return err
	}
	buf := make([]byte, fileLengthSize)
	binary.LittleEndian.PutUint64(buf, uint64(length))
	_, err := fs.store.Write(buf)
	return err
}

// readFileMetadata reads a file's metadata record: its length and name.
func (fs *FileSystem) readFileMetadata(region storage.RegionID) (int64, string, error) {
	if err := fs.store.JumpToRegion(region); err != nil {
		return 0, "", err
	}
	hdr := make([]byte, fileLengthSize+1)
	if n, err := fs.store.Read(hdr); err != nil {
		return 0, "", err
	} else if n < len(hdr) {
		return 0, "", fmt.Errorf("truncated file metadata in region %d", region)
	}
	length := int64(binary.LittleEndian.Uint64(hdr[0:fileLengthSize]))
	name, err := fs.readName(int(hdr[fileLengthSize]))
	return length, name, err
}

// writeDirMetadata writes a directory's metadata record: name length and name.
func (fs *FileSystem) writeDirMetadata(region storage.RegionID, name string) error {
	if len(name) > maxNameLen {
		return ErrNameTooLong
	}
	if err := fs.store.JumpToRegion(region); err != nil {
		return err
	}
	buf := make([]byte, 1+len(name))
	buf[0] = byte(len(name))
	copy(buf[1:], name)
	_, err := fs.store.Write(buf)
	return err
}

// readDirMetadata reads a directory's metadata record: its name.
func (fs *FileSystem) readDirMetadata(region storage.RegionID) (string, error) {
	if err := fs.store.JumpToRegion(region); err != nil {
		return "", err
	}
	hdr := make([]byte, 1)
	if n, err := fs.store.Read(hdr); err != nil {
		return "", err
	} else if n < 1 {
		return "", fmt.Errorf("truncated directory metadata in region %d", region)
	}
	return fs.readName(int(hdr[0]))
}

// readName reads n name bytes from the cursor's current position.
func (fs *FileSystem) readName(n int) (string, error) {
	buf := make([]byte, n)
	if got, err := fs.store.Read(buf); err != nil {
		return "", err
	} else if got < n {
		return "", fmt.Errorf("truncated name: want %d bytes, got %d", n, got)
	}
	return string(buf), nil
}
