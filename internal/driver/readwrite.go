package driver

import (
	"fmt"

	"fs3drive/internal/wire"
)

// Read copies up to count bytes from h's current position into buf,
// consulting the cache before issuing a wire read and never extending
// the file (spec.md §4.4). On any wire failure it returns 0 and the error,
// treating a mid-loop wire error as a total failure rather than a partial
// count. Bytes already copied into buf this call are left there, and the
// position keeps the advance made for those chunks.
func (d *Driver) Read(h int, buf []byte, count int) (int, error) {
	if !d.mounted {
		return 0, newErr(KindPrecondition, ErrNotMounted)
	}
	f, err := d.handle(h)
	if err != nil {
		return 0, err
	}
	if !f.Open {
		return 0, newErr(KindPrecondition, fmt.Errorf("%w: handle %d", ErrNotOpen, h))
	}
	if count > len(buf) {
		count = len(buf)
	}
	if f.Position == f.Length {
		return 0, nil
	}

	sectorSize := d.cfg.SectorSize
	bytesRead := 0
	remaining := count

	for remaining > 0 && f.Position < f.Length {
		intra := f.Position % sectorSize
		k := f.Position / sectorSize

		ref, ok := d.locateSector(f, k)
		if !ok {
			return 0, newErr(KindPrecondition, fmt.Errorf("no sector for handle %d at index %d (allocation-map corruption)", h, k))
		}

		if err := d.ensureTrack(ref.track); err != nil {
			return 0, err
		}

		sector, err := d.fetchSector(ref.track, ref.sector)
		if err != nil {
			return 0, err
		}

		inFile := f.Length - f.Position
		chunk := min(remaining, sectorSize-intra, inFile)

		copy(buf[bytesRead:bytesRead+chunk], sector[intra:intra+chunk])

		f.Position += chunk
		bytesRead += chunk
		remaining -= chunk
	}

	return bytesRead, nil
}

// Write copies up to count bytes from buf into h starting at its current
// position, allocating new sectors as needed and extending the file's
// length past the current end (spec.md §4.4). Like Read, a mid-loop wire
// or capacity failure returns 0 and the error. Sectors already written
// and allocated earlier in the call are not rolled back: they stay owned
// by h, and the position and length keep the advance made for them.
func (d *Driver) Write(h int, buf []byte, count int) (int, error) {
	if !d.mounted {
		return 0, newErr(KindPrecondition, ErrNotMounted)
	}
	f, err := d.handle(h)
	if err != nil {
		return 0, err
	}
	if !f.Open {
		return 0, newErr(KindPrecondition, fmt.Errorf("%w: handle %d", ErrNotOpen, h))
	}
	if count > len(buf) {
		count = len(buf)
	}

	sectorSize := d.cfg.SectorSize
	bytesWritten := 0
	remaining := count

	for remaining > 0 {
		intra := f.Position % sectorSize
		k := f.Position / sectorSize

		ref, existed := d.locateSector(f, k)
		var sector []byte

		if existed {
			sector, err = d.fetchSector(ref.track, ref.sector)
			if err != nil {
				return 0, err
			}
		} else {
			t, s, ok := d.findFreeSlot()
			if !ok {
				return 0, newErr(KindCapacity, ErrNoFreeSector)
			}
			ref = sectorRef{track: t, sector: s}
			sector = make([]byte, sectorSize) // zero-filled for determinism
		}

		if err := d.ensureTrack(ref.track); err != nil {
			return 0, err
		}

		chunk := min(remaining, sectorSize-intra)
		copy(sector[intra:intra+chunk], buf[bytesWritten:bytesWritten+chunk])

		d.cache.Put(ref.track, ref.sector, sector)
		reply, err := d.sess.Syscall(wire.Pack(wire.OpWriteSector, uint16(ref.sector), uint32(ref.track), 0), sector)
		if err := d.checkReply(reply, err); err != nil {
			return 0, err
		}

		if !existed {
			d.allocMap[ref.track][ref.sector] = h
			f.sectors = append(f.sectors, ref)
		}

		f.Position += chunk
		if f.Position > f.Length {
			f.Length = f.Position
		}
		bytesWritten += chunk
		remaining -= chunk
	}

	return bytesWritten, nil
}

// locateSector returns the k-th sector owned by f in scan order, per the
// per-handle index built up by Write (spec.md §9's suggested
// optimization over rescanning the whole allocation map).
func (d *Driver) locateSector(f *FileRecord, k int) (sectorRef, bool) {
	if k < 0 || k >= len(f.sectors) {
		return sectorRef{}, false
	}
	return f.sectors[k], true
}

// fetchSector consults the cache first, falling back to a wire
// READ_SECTOR on a miss and warming the cache with the result
// (spec.md §4.3's coherence contract).
func (d *Driver) fetchSector(track, sector int) ([]byte, error) {
	if payload, ok := d.cache.Get(track, sector); ok {
		return payload, nil
	}
	scratch := make([]byte, d.cfg.SectorSize)
	reply, err := d.sess.Syscall(wire.Pack(wire.OpReadSector, uint16(sector), uint32(track), 0), scratch)
	if err := d.checkReply(reply, err); err != nil {
		return nil, err
	}
	d.cache.Put(track, sector, scratch)
	return scratch, nil
}

// findFreeSlot scans the allocation map in Invariant B's scan order and
// returns the first EMPTY cell, which Invariant C guarantees is the
// correct next allocation.
func (d *Driver) findFreeSlot() (track, sector int, ok bool) {
	for t := range d.allocMap {
		for s, owner := range d.allocMap[t] {
			if owner == empty {
				return t, s, true
			}
		}
	}
	return 0, 0, false
}

// AllocatedSectorCount returns the number of non-EMPTY allocation-map
// cells, used by property tests to check Invariant A (spec.md §8,
// property 1) without reaching into package internals.
func (d *Driver) AllocatedSectorCount() int {
	n := 0
	for _, row := range d.allocMap {
		for _, owner := range row {
			if owner != empty {
				n++
			}
		}
	}
	return n
}

// CeilSectorsFor returns ceil(length/sectorSize), the expected sector
// count for a file of the given length.
func (d *Driver) CeilSectorsFor(length int) int {
	if length == 0 {
		return 0
	}
	sectorSize := d.cfg.SectorSize
	return (length + sectorSize - 1) / sectorSize
}
