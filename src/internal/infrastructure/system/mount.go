package system

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Mounter performs bind mounts.
type Mounter interface {
	IsMounted(target string) (bool, error)
	BindMount(source, target string, readOnly bool) error
	Unmount(target string) error
	// MountsUnder returns mounted targets at or below root, deepest first.
	MountsUnder(root string) ([]string, error)
}

// UnixMounter mounts through mount(2). The mount table is the live one of
// the current process unless MountInfo names a mountinfo file to read
// instead. Paths are compared after resolving symlinks, as the kernel
// reports them.
type UnixMounter struct {
	MountInfo string
}

// NewUnixMounter returns a mounter for the current mount namespace.
func NewUnixMounter() *UnixMounter {
	return &UnixMounter{}
}

// BindMount binds source onto target, then remounts it read-only when
// asked. A read-only bind needs the second remount pass.
func (m *UnixMounter) BindMount(source, target string, readOnly bool) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s on %s: %w", source, target, err)
	}
	if !readOnly {
		return nil
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		_ = unix.Unmount(target, 0)
		return fmt.Errorf("remount %s read-only: %w", target, err)
	}
	return nil
}

// Unmount detaches the mount on target.
func (m *UnixMounter) Unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// IsMounted reports whether target is a mount point. A target that does
// not exist is not mounted.
func (m *UnixMounter) IsMounted(target string) (bool, error) {
	target = resolveExisting(filepath.Clean(target))
	if m.MountInfo == "" {
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		mounted, err := mountinfo.Mounted(target)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("checking mount %s: %w", target, err)
		}
		return mounted, nil
	}

	infos, err := m.mounts(mountinfo.SingleEntryFilter(target))
	if err != nil {
		return false, err
	}
	return len(infos) > 0, nil
}

// MountsUnder returns mount points at or below root, deepest first.
func (m *UnixMounter) MountsUnder(root string) ([]string, error) {
	infos, err := m.mounts(mountinfo.PrefixFilter(resolveExisting(filepath.Clean(root))))
	if err != nil {
		return nil, err
	}
	under := make([]string, 0, len(infos))
	for _, info := range infos {
		under = append(under, info.Mountpoint)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(under)))
	return under, nil
}

func (m *UnixMounter) mounts(filter mountinfo.FilterFunc) ([]*mountinfo.Info, error) {
	if m.MountInfo == "" {
		infos, err := mountinfo.GetMounts(filter)
		if err != nil {
			return nil, fmt.Errorf("reading mount table: %w", err)
		}
		return infos, nil
	}

	f, err := os.Open(m.MountInfo)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	defer func() { _ = f.Close() }()
	infos, err := mountinfo.GetMountsFromReader(f, filter)
	if err != nil {
		return nil, fmt.Errorf("parsing mount table: %w", err)
	}
	return infos, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, root+"/")
}
