package vfs

import (
	"strings"
	"sync"

	"blockvfs/internal/logging"
	"blockvfs/internal/storage"
)

var vfsLogger = logging.GetLogger().WithPrefix("vfs")

// rootRegion is the region holding the root directory. Block 0 is reserved
// for it when an image is created.
const rootRegion storage.RegionID = 0

// FileSystem is the virtual filesystem over one storage image. All public
// methods are safe for concurrent use; a single mutex serializes them because
// the storage engine has exactly one region cursor.
type FileSystem struct {
	mu    sync.Mutex
	store *storage.Store
	names *nameCache

	descriptors [maxDescriptors]*descriptor

	// lastUsed tracks which descriptor the region cursor is positioned for,
	// so consecutive reads and writes on one file skip the jump-and-seek.
	// -1 whenever the cursor was moved for anything else.
	lastUsed int

	shutdown bool
}

// New builds a filesystem on top of an opened store.
func New(store *storage.Store) (*FileSystem, error) {
	names, err := newNameCache()
	if err != nil {
		return nil, err
	}
	return &FileSystem{
		store:    store,
		names:    names,
		lastUsed: -1,
	}, nil
}

// Shutdown releases the name cache and closes the underlying store. Safe to
// call more than once.
func (fs *FileSystem) Shutdown() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.shutdown {
		return nil
	}
	fs.shutdown = true
	fs.names.close()
	return fs.store.Close()
}

// invalidateCursor records that the region cursor no longer matches any open
// descriptor. Must be called by every operation that moves the cursor for
// something other than descriptor I/O.
func (fs *FileSystem) invalidateCursor() {
	fs.lastUsed = -1
}

// navigate walks the directory components of path from the root and returns
// the region of the directory containing the last component, along with that
// last component (the residual name). A trailing slash yields an empty
// residual, naming the directory itself.
func (fs *FileSystem) navigate(path string) (storage.RegionID, string, error) {
	dirs, residual := splitPath(path)
	region := rootRegion
	for _, name := range dirs {
		e, _, err := fs.findEntry(region, kindDir, name)
		if err != nil {
			return storage.InvalidRegion, "", err
		}
		region = e.content
	}
	return region, residual, nil
}

// findEntry scans the directory region for an entry of the given kind and
// name. It returns the entry and its byte position within the region. The scan
// stops at the first null entry or at the end of the region chain.
func (fs *FileSystem) findEntry(dir storage.RegionID, kind entryKind, name string) (dirEntry, int64, error) {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return dirEntry{}, 0, err
	}

	buf := make([]byte, entrySize)
	for {
		pos := fs.store.Position()
		n, err := fs.store.Read(buf)
		if err != nil {
			return dirEntry{}, 0, err
		}
		if n < entrySize {
			return dirEntry{}, 0, ErrNotFound
		}

		e := decodeEntry(buf)
		if e.kind == kindNull {
			return dirEntry{}, 0, ErrNotFound
		}
		if e.kind != kind {
			continue
		}

		next := fs.store.Position()
		got, err := fs.entryName(kind, e.metadata)
		if err != nil {
			return dirEntry{}, 0, err
		}
		if got == name {
			return e, pos, nil
		}

		// Reading the name moved the cursor into the metadata region; put it
		// back where the scan left off.
		if err := fs.store.JumpToRegion(dir); err != nil {
			return dirEntry{}, 0, err
		}
		fs.store.Seek(next)
	}
}

// insertEntry writes the entry into the first null or unused slot of the
// directory region, appending at the end of the chain when every slot is
// taken.
func (fs *FileSystem) insertEntry(dir storage.RegionID, e dirEntry) error {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return err
	}

	kind := make([]byte, 1)
	for {
		n, err := fs.store.Read(kind)
		if err != nil {
			return err
		}
		if n == 0 {
			// End of the chain; writing here extends the region.
			break
		}
		k := entryKind(kind[0])
		if k == kindNull || k == kindUnused {
			fs.store.Seek(-1)
			break
		}
		fs.store.Seek(entrySize - 1)
	}

	_, err := fs.store.Write(encodeEntry(e))
	return err
}

// entryName returns the name stored in the entry's metadata region,
// consulting the cache first.
func (fs *FileSystem) entryName(kind entryKind, metadata storage.RegionID) (string, error) {
	if name, ok := fs.names.get(metadata); ok {
		return name, nil
	}

	var name string
	var err error
	if kind == kindFile {
		_, name, err = fs.readFileMetadata(metadata)
	} else {
		name, err = fs.readDirMetadata(metadata)
	}
	if err != nil {
		return "", err
	}
	fs.names.put(metadata, name)
	return name, nil
}

// tombstone marks the entry at pos in the directory region as unused. The
// slot is reusable; the entries after it stay where they are.
func (fs *FileSystem) tombstone(dir storage.RegionID, pos int64) error {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return err
	}
	fs.store.Seek(pos)
	_, err := fs.store.Write([]byte{byte(kindUnused)})
	return err
}

// dirEmpty reports whether the directory region holds no live entries.
func (fs *FileSystem) dirEmpty(dir storage.RegionID) (bool, error) {
	if err := fs.store.JumpToRegion(dir); err != nil {
		return false, err
	}

	buf := make([]byte, entrySize)
	for {
		n, err := fs.store.Read(buf)
		if err != nil {
			return false, err
		}
		if n < entrySize || entryKind(buf[0]) == kindNull {
			return true, nil
		}
		if entryKind(buf[0]) != kindUnused {
			return false, nil
		}
	}
}

// Mkdir creates a directory named by the last component of path inside the
// directory named by the leading components.
func (fs *FileSystem) Mkdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateCursor()
	vfsLogger.Debug("Mkdir %s", path)

	// "Documents" and "Documents/" both name the directory itself.
	parent, name, err := fs.navigate(strings.TrimSuffix(path, "/"))
	if err != nil {
		return newError(OpMkdir, path, err)
	}
	if !validName(name) {
		return newError(OpMkdir, path, ErrInvalidPath)
	}

	content, err := fs.store.AllocateRegion()
	if err != nil {
		return newError(OpMkdir, path, err)
	}
	metadata, err := fs.store.AllocateRegion()
	if err != nil {
		fs.store.FreeRegion(content)
		return newError(OpMkdir, path, err)
	}

	if err := fs.writeDirMetadata(metadata, name); err != nil {
		fs.store.FreeRegion(content)
		fs.store.FreeRegion(metadata)
		return newError(OpMkdir, path, err)
	}

	if err := fs.insertEntry(parent, dirEntry{kind: kindDir, metadata: metadata, content: content}); err != nil {
		fs.store.FreeRegion(content)
		fs.store.FreeRegion(metadata)
		return newError(OpMkdir, path, err)
	}

	return nil
}

// Rmdir removes the directory named by path. The directory must hold no live
// entries; its slot in the parent becomes a reusable tombstone and both its
// regions are freed.
func (fs *FileSystem) Rmdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateCursor()
	vfsLogger.Debug("Rmdir %s", path)

	parent, name, err := fs.navigate(strings.TrimSuffix(path, "/"))
	if err != nil {
		return newError(OpRmdir, path, err)
	}

	e, pos, err := fs.findEntry(parent, kindDir, name)
	if err != nil {
		return newError(OpRmdir, path, err)
	}

	empty, err := fs.dirEmpty(e.content)
	if err != nil {
		return newError(OpRmdir, path, err)
	}
	if !empty {
		return newError(OpRmdir, path, ErrNotEmpty)
	}

	if err := fs.tombstone(parent, pos); err != nil {
		return newError(OpRmdir, path, err)
	}
	if err := fs.store.FreeRegion(e.metadata); err != nil {
		return newError(OpRmdir, path, err)
	}
	if err := fs.store.FreeRegion(e.content); err != nil {
		return newError(OpRmdir, path, err)
	}
	fs.names.drop(e.metadata)

	return nil
}

// Unlink removes the file named by path. Open descriptors for the file are
// not tracked; removing a file that is still open leaves those descriptors
// pointing at freed regions.
func (fs *FileSystem) Unlink(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateCursor()
	vfsLogger.Debug("Unlink %s", path)

	parent, name, err := fs.navigate(path)
	if err != nil {
		return newError(OpUnlink, path, err)
	}

	e, pos, err := fs.findEntry(parent, kindFile, name)
	if err != nil {
		return newError(OpUnlink, path, err)
	}

	if err := fs.tombstone(parent, pos); err != nil {
		return newError(OpUnlink, path, err)
	}
	if err := fs.store.FreeRegion(e.metadata); err != nil {
		return newError(OpUnlink, path, err)
	}
	if err := fs.store.FreeRegion(e.content); err != nil {
		return newError(OpUnlink, path, err)
	}
	fs.names.drop(e.metadata)

	return nil
}

// DirEntry describes one live entry of a directory.
type DirEntry struct {
	Name string
	Dir  bool
	Size int64
}

// ReadDir lists the live entries of the directory named by path. Both "dir"
// and "dir/" name the same directory; the empty path names the root.
func (fs *FileSystem) ReadDir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateCursor()
	vfsLogger.Debug("ReadDir %s", path)

	dir, residual, err := fs.navigate(path)
	if err != nil {
		return nil, newError(OpReadDir, path, err)
	}
	if residual != "" {
		e, _, err := fs.findEntry(dir, kindDir, residual)
		if err != nil {
			return nil, newError(OpReadDir, path, err)
		}
		dir = e.content
	}

	var entries []DirEntry
	if err := fs.store.JumpToRegion(dir); err != nil {
		return nil, newError(OpReadDir, path, err)
	}

	buf := make([]byte, entrySize)
	for {
		n, err := fs.store.Read(buf)
		if err != nil {
			return nil, newError(OpReadDir, path, err)
		}
		if n < entrySize {
			break
		}

		e := decodeEntry(buf)
		if e.kind == kindNull {
			break
		}
		if e.kind == kindUnused {
			continue
		}

		next := fs.store.Position()
		var de DirEntry
		switch e.kind {
		case kindFile:
			length, name, err := fs.readFileMetadata(e.metadata)
			if err != nil {
				return nil, newError(OpReadDir, path, err)
			}
			fs.names.put(e.metadata, name)
			de = DirEntry{Name: name, Size: length}
		case kindDir:
			name, err := fs.entryName(kindDir, e.metadata)
			if err != nil {
				return nil, newError(OpReadDir, path, err)
			}
			de = DirEntry{Name: name, Dir: true}
		default:
			continue
		}
		entries = append(entries, de)

		if err := fs.store.JumpToRegion(dir); err != nil {
			return nil, newError(OpReadDir, path, err)
		}
		fs.store.Seek(next)
	}

	return entries, nil
}

// Stat resolves path to a single entry without opening it. Files are tried
// first, then directories. A path with an empty last component (the root, or
// any path ending in a slash) stats the directory it navigates to.
func (fs *FileSystem) Stat(path string) (DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateCursor()

	parent, name, err := fs.navigate(path)
	if err != nil {
		return DirEntry{}, newError(OpStat, path, err)
	}
	if name == "" {
		return DirEntry{Dir: true}, nil
	}

	if e, _, err := fs.findEntry(parent, kindFile, name); err == nil {
		length, _, err := fs.readFileMetadata(e.metadata)
		if err != nil {
			return DirEntry{}, newError(OpStat, path, err)
		}
		return DirEntry{Name: name, Size: length}, nil
	}

	if _, _, err := fs.findEntry(parent, kindDir, name); err == nil {
		return DirEntry{Name: name, Dir: true}, nil
	}

	return DirEntry{}, newError(OpStat, path, ErrNotFound)
}
