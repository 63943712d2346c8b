package mount

import (
	"context"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"blockvfs/internal/logging"
	"blockvfs/internal/vfs"
)

var dirLogger = logging.GetLogger().WithPrefix("dir")

// Dir is a directory node. The empty path is the root.
type Dir struct {
	adapter *Adapter
	path    string
}

func (d *Dir) child(name string) string {
	if d.path == "" {
		return name
	}
	return d.path + "/" + name
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory %q", d.path)
	a.Mode = os.ModeDir | 0755
	a.Uid = d.adapter.uid
	a.Gid = d.adapter.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path)

	de, err := d.adapter.fs.Stat(d.child(name))
	if err != nil {
		return nil, toFuseError(err)
	}
	if de.Dir {
		return &Dir{adapter: d.adapter, path: d.child(name)}, nil
	}
	return &File{adapter: d.adapter, path: d.child(name)}, nil
}

// ReadDirAll implements the HandleReadDirAller interface.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path)

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	listed, err := d.adapter.fs.ReadDir(d.path)
	if err != nil {
		return nil, toFuseError(err)
	}
	for _, de := range listed {
		t := fuse.DT_File
		if de.Dir {
			t = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: de.Name, Type: t})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating directory %q in %q", req.Name, d.path)

	if err := d.adapter.fs.Mkdir(d.child(req.Name)); err != nil {
		return nil, toFuseError(err)
	}
	return &Dir{adapter: d.adapter, path: d.child(req.Name)}, nil
}

// Create implements the NodeCreater interface, creating and opening a file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirLogger.Info("Creating file %q in %q", req.Name, d.path)

	path := d.child(req.Name)
	fd, err := d.adapter.fs.Open(path, vfs.FlagCreate|openFlags(req.Flags))
	if err != nil {
		return nil, nil, toFuseError(err)
	}

	node := &File{adapter: d.adapter, path: path}
	return node, &Handle{adapter: d.adapter, fd: fd, path: path}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("Removing %q from directory %q (isDir=%v)", req.Name, d.path, req.Dir)

	if req.Dir {
		return toFuseError(d.adapter.fs.Rmdir(d.child(req.Name)))
	}
	return toFuseError(d.adapter.fs.Unlink(d.child(req.Name)))
}

// openFlags translates the FUSE open flags that have a counterpart here.
func openFlags(flags fuse.OpenFlags) vfs.Flag {
	var f vfs.Flag
	if flags&fuse.OpenExclusive != 0 {
		f |= vfs.FlagExcl
	}
	if flags&fuse.OpenTruncate != 0 {
		f |= vfs.FlagTrunc
	}
	if flags&fuse.OpenAppend != 0 {
		f |= vfs.FlagAppend
	}
	return f
}
