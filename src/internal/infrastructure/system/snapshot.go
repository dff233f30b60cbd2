package system

import (
	"context"
	"fmt"
	"os"
)

// SnapshotDriver takes, removes and restores point-in-time copies of a
// project tree.
type SnapshotDriver interface {
	Name() string
	Create(ctx context.Context, source, dest string) error
	Delete(ctx context.Context, path string) error
	Restore(ctx context.Context, snapshot, target string) error
}

// NewSnapshotDriver returns the driver registered under name.
func NewSnapshotDriver(name string, runner CommandRunner) (SnapshotDriver, error) {
	switch name {
	case "copy", "":
		return &CopyDriver{runner: runner}, nil
	case "btrfs":
		return &BtrfsDriver{runner: runner}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver: %s", name)
	}
}

// CopyDriver snapshots with reflink-aware copies. It works on any
// filesystem and shares extents where the filesystem supports it.
type CopyDriver struct {
	runner CommandRunner
}

// Name returns "copy".
func (d *CopyDriver) Name() string { return "copy" }

// Create copies source to dest, preserving ownership, modes and ACLs.
func (d *CopyDriver) Create(ctx context.Context, source, dest string) error {
	return d.runner.RunCommand(ctx, "cp", "-a", "--reflink=auto", source, dest)
}

// Delete removes the snapshot tree.
func (d *CopyDriver) Delete(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing snapshot %s: %w", path, err)
	}
	return nil
}

// Restore makes target identical to snapshot.
func (d *CopyDriver) Restore(ctx context.Context, snapshot, target string) error {
	return restoreWithRsync(ctx, d.runner, snapshot, target)
}

// BtrfsDriver snapshots project trees that are btrfs subvolumes.
type BtrfsDriver struct {
	runner CommandRunner
}

// Name returns "btrfs".
func (d *BtrfsDriver) Name() string { return "btrfs" }

// Create takes a read-only subvolume snapshot of source.
func (d *BtrfsDriver) Create(ctx context.Context, source, dest string) error {
	return d.runner.RunCommand(ctx, "btrfs", "subvolume", "snapshot", "-r", source, dest)
}

// Delete removes the snapshot subvolume.
func (d *BtrfsDriver) Delete(ctx context.Context, path string) error {
	return d.runner.RunCommand(ctx, "btrfs", "subvolume", "delete", path)
}

// Restore copies the snapshot content back over the live subvolume, which
// keeps its identity and any mounts on it.
func (d *BtrfsDriver) Restore(ctx context.Context, snapshot, target string) error {
	return restoreWithRsync(ctx, d.runner, snapshot, target)
}

func restoreWithRsync(ctx context.Context, runner CommandRunner, snapshot, target string) error {
	return runner.RunCommand(ctx, "rsync", "-aAX", "--delete", snapshot+"/", target+"/")
}
