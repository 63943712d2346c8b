package mount

import (
	"context"
	"io"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"blockvfs/internal/logging"
)

var fileLogger = logging.GetLogger().WithPrefix("file")

// File is a file node backed by a path in the virtual filesystem.
type File struct {
	adapter *Adapter
	path    string
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file %q", f.path)

	de, err := f.adapter.fs.Stat(f.path)
	if err != nil {
		return toFuseError(err)
	}

	a.Mode = 0644
	a.Size = uint64(de.Size)
	a.Uid = f.adapter.uid
	a.Gid = f.adapter.gid
	return nil
}

// Open implements the NodeOpener interface, allocating a descriptor.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening file %q with flags %v", f.path, req.Flags)

	fd, err := f.adapter.fs.Open(f.path, openFlags(req.Flags))
	if err != nil {
		return nil, toFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO

	return &Handle{adapter: f.adapter, fd: fd, path: f.path}, nil
}

// Handle is an open descriptor on the virtual filesystem.
type Handle struct {
	adapter *Adapter
	fd      int
	path    string // For logging purposes
}

// Read implements the HandleReader interface.
func (h *Handle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from %q at offset %d", req.Size, h.path, req.Offset)

	if _, err := h.adapter.fs.Seek(h.fd, req.Offset, io.SeekStart); err != nil {
		return toFuseError(err)
	}

	buf := make([]byte, req.Size)
	n, err := h.adapter.fs.Read(h.fd, buf)
	if err != nil {
		return toFuseError(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements the HandleWriter interface. Offsets are clamped to the
// file's length; the format has no sparse files.
func (h *Handle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes to %q at offset %d", len(req.Data), h.path, req.Offset)

	if _, err := h.adapter.fs.Seek(h.fd, req.Offset, io.SeekStart); err != nil {
		return toFuseError(err)
	}

	n, err := h.adapter.fs.Write(h.fd, req.Data)
	resp.Size = n
	if err != nil {
		return toFuseError(err)
	}
	return nil
}

// Release implements the HandleReleaser interface, freeing the descriptor.
func (h *Handle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing %q (fd=%d)", h.path, h.fd)
	return toFuseError(h.adapter.fs.Close(h.fd))
}
