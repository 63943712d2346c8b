// Package mount exposes a blockvfs image as a FUSE filesystem. It adapts the
// virtual filesystem API onto bazil.org/fuse node and handle types and
// translates internal errors to errnos at the boundary.
package mount

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"blockvfs/internal/logging"
	"blockvfs/internal/storage"
	"blockvfs/internal/vfs"
)

var mountLogger = logging.GetLogger().WithPrefix("mount")

// Adapter serves one virtual filesystem over FUSE.
type Adapter struct {
	fs   *vfs.FileSystem
	conn *fuse.Conn
	done chan struct{}
	uid  uint32
	gid  uint32
}

// New creates a FUSE adapter for the given filesystem. Ownership shown to the
// kernel defaults to the current process and can be overridden with the PUID
// and PGID environment variables.
func New(filesystem *vfs.FileSystem) *Adapter {
	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			mountLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			mountLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &Adapter{
		fs:   filesystem,
		done: make(chan struct{}),
		uid:  uid,
		gid:  gid,
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (a *Adapter) Root() (fusefs.Node, error) {
	mountLogger.Trace("Getting root directory node")
	return &Dir{adapter: a, path: ""}, nil
}

// Mount attaches the filesystem at mountPoint and starts serving requests in
// the background. It returns once the mount point is usable.
func (a *Adapter) Mount(mountPoint string) error {
	mountLogger.Info("Mounting filesystem at %s", mountPoint)

	c, err := fuse.Mount(mountPoint,
		fuse.FSName("blockvfs"),
		fuse.Subtype("blockvfs"),
		fuse.DefaultPermissions(),
	)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	a.conn = c

	go func() {
		defer close(a.done)
		if err := fusefs.Serve(c, a); err != nil {
			mountLogger.Error("FUSE server error: %v", err)
		}
		mountLogger.Debug("FUSE server stopped")
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	mountLogger.Info("Filesystem mounted successfully")
	return nil
}

// Unmount detaches the filesystem.
func (a *Adapter) Unmount(mountPoint string) error {
	mountLogger.Info("Unmounting filesystem from %s", mountPoint)
	if a.conn == nil {
		return nil
	}
	if err := fuse.Unmount(mountPoint); err != nil {
		mountLogger.Error("Unmount failed: %v", err)
		return err
	}
	return nil
}

// Wait blocks until the serve loop has exited.
func (a *Adapter) Wait() {
	<-a.done
}

func waitForMount(mountPoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountPoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// toFuseError converts an internal error to the errno FUSE expects.
func toFuseError(err error) error {
	if err == nil {
		return nil
	}
	mountLogger.Trace("Converting error to FUSE error: %v", err)

	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, vfs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, vfs.ErrDescriptorsFull):
		return syscall.EMFILE
	case errors.Is(err, vfs.ErrBadDescriptor):
		return syscall.EBADF
	case errors.Is(err, vfs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, vfs.ErrInvalidPath), errors.Is(err, vfs.ErrBadWhence):
		return syscall.EINVAL
	case errors.Is(err, storage.ErrStorageFull):
		return syscall.ENOSPC
	default:
		mountLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}
