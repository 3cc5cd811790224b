// Package driver implements the file-to-sector allocator and the
// user-facing file API (spec.md §4.4): file table, allocation map,
// mount/open/close/seek/read/write. It is grounded on
// original_source/fs3_driver.c (FS3File, the track/sector scan order,
// find_open_track/find_open_sector/find_current_track/find_current_sector)
// with the per-handle sector index improvement spec.md §9 suggests in
// place of a full-map rescan per sector.
//
// Two behaviors of the original driver are deliberately NOT reproduced,
// per spec.md §9's "known source behavior worth flagging": fs3_close no
// longer fails on an open file (it now succeeds, the documented correct
// behavior), and fs3_open's file-table-full check no longer indexes one
// past the end of the table.
package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"fs3drive/internal/cache"
	"fs3drive/internal/config"
	"fs3drive/internal/session"
	"fs3drive/internal/wire"
)

const empty = -1

type sectorRef struct {
	track, sector int
}

// FileRecord is the per-file metadata described in spec.md §3.
type FileRecord struct {
	Created  bool
	Open     bool
	Name     string
	Length   int
	Position int

	// sectors lists the file's data sectors in scan order (Invariant B).
	// This is the per-handle index spec.md §9 recommends instead of
	// rescanning the whole allocation map for the k-th owned cell.
	sectors []sectorRef
}

// FileInfo is a read-only snapshot of a FileRecord, returned by Stat.
type FileInfo struct {
	Name     string
	Length   int
	Position int
	Open     bool
}

// Driver is a DriverContext (spec.md §9): every operation is a method on
// an explicit value rather than touching process-wide globals. A single
// Driver must not be used from more than one goroutine concurrently
// (spec.md §5).
type Driver struct {
	cfg   config.Config
	sess  *session.Session
	cache *cache.Cache
	log   logrus.FieldLogger

	mounted  bool
	files    []FileRecord
	allocMap [][]int // [track][sector] -> handle, or empty
}

// New constructs a Driver over an already-configured session and cache.
// The file table and allocation map are allocated here and reset again
// on every successful Mount (spec.md §3, "Lifecycles").
func New(cfg config.Config, sess *session.Session, c *cache.Cache, log logrus.FieldLogger) *Driver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Driver{
		cfg:   cfg,
		sess:  sess,
		cache: c,
		log:   log.WithField("component", "driver"),
	}
	d.resetTables()
	return d
}

func (d *Driver) resetTables() {
	d.files = make([]FileRecord, d.cfg.MaxFiles)
	d.allocMap = make([][]int, d.cfg.MaxTracks)
	for t := range d.allocMap {
		row := make([]int, d.cfg.TrackSize)
		for s := range row {
			row[s] = empty
		}
		d.allocMap[t] = row
	}
}

// Mount sends MOUNT and, on success, resets the file table and
// allocation map and clears the current-track shadow (spec.md §4.4).
func (d *Driver) Mount() error {
	if d.mounted {
		return newErr(KindPrecondition, ErrAlreadyMounted)
	}
	reply, err := d.sess.Syscall(wire.Pack(wire.OpMount, 0, 0, 0), nil)
	if err := d.checkReply(reply, err); err != nil {
		return err
	}
	d.mounted = true
	d.resetTables()
	d.log.Info("mounted")
	return nil
}

// Unmount sends UNMOUNT and, on success, closes every created file.
func (d *Driver) Unmount() error {
	if !d.mounted {
		return newErr(KindPrecondition, ErrNotMounted)
	}
	reply, err := d.sess.Syscall(wire.Pack(wire.OpUnmount, 0, 0, 0), nil)
	if err := d.checkReply(reply, err); err != nil {
		return err
	}
	d.mounted = false
	for i := range d.files {
		if d.files[i].Created {
			d.files[i].Open = false
		}
	}
	d.log.Info("unmounted")
	return nil
}

// Open returns the handle for path, creating a new file record on first
// use of an unknown name (spec.md §4.4).
func (d *Driver) Open(path string) (int, error) {
	for i := range d.files {
		if d.files[i].Created && d.files[i].Name == path {
			d.files[i].Open = true
			d.files[i].Position = 0
			return i, nil
		}
	}
	for i := range d.files {
		if !d.files[i].Created {
			d.files[i] = FileRecord{Created: true, Open: true, Name: path}
			return i, nil
		}
	}
	return -1, newErr(KindCapacity, fmt.Errorf("%w: %d files", ErrFileTableFull, len(d.files)))
}

// Close marks h as no longer open. It succeeds only when h is a created,
// currently-open handle (see the package doc comment re: spec.md §9).
func (d *Driver) Close(h int) error {
	f, err := d.handle(h)
	if err != nil {
		return err
	}
	if !f.Open {
		return newErr(KindPrecondition, fmt.Errorf("%w: handle %d", ErrNotOpen, h))
	}
	f.Open = false
	return nil
}

// Seek repositions h's cursor, bounded by its current length.
func (d *Driver) Seek(h int, loc int) error {
	f, err := d.handle(h)
	if err != nil {
		return err
	}
	if !f.Open {
		return newErr(KindPrecondition, fmt.Errorf("%w: handle %d", ErrNotOpen, h))
	}
	if loc > f.Length {
		return newErr(KindPrecondition, fmt.Errorf("%w: loc=%d length=%d", ErrSeekPastEnd, loc, f.Length))
	}
	f.Position = loc
	return nil
}

// Stat returns a read-only snapshot of h's metadata (an addition beyond
// spec.md's distilled surface, see SPEC_FULL.md §4).
func (d *Driver) Stat(h int) (FileInfo, error) {
	f, err := d.handle(h)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: f.Name, Length: f.Length, Position: f.Position, Open: f.Open}, nil
}

func (d *Driver) handle(h int) (*FileRecord, error) {
	if h < 0 || h >= len(d.files) {
		return nil, newErr(KindPrecondition, fmt.Errorf("%w: %d", ErrBadHandle, h))
	}
	f := &d.files[h]
	if !f.Created {
		return nil, newErr(KindPrecondition, fmt.Errorf("%w: handle %d", ErrNotCreated, h))
	}
	return f, nil
}

// checkReply translates a wire-level failure (I/O error or non-zero
// return status) into a classified driver error (spec.md §7).
func (d *Driver) checkReply(reply uint64, err error) error {
	if err != nil {
		return newErr(KindWire, fmt.Errorf("%w: %v", ErrWireIO, err))
	}
	if wire.ReturnOf(reply) != 0 {
		return newErr(KindControllerRefusal, ErrControllerDenied)
	}
	return nil
}

// ensureTrack issues TRACK_SEEK only when the session's current-track
// shadow disagrees with t, eliding redundant wire calls (spec.md §4.4,
// testable property 5 in §8).
func (d *Driver) ensureTrack(t int) error {
	if d.sess.CurrentTrack() == t {
		return nil
	}
	reply, err := d.sess.Syscall(wire.Pack(wire.OpTrackSeek, 0, uint32(t), 0), nil)
	if err := d.checkReply(reply, err); err != nil {
		return err
	}
	d.sess.SetCurrentTrack(t)
	return nil
}
