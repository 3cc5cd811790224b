// Package mockctl is a minimal in-memory reference implementation of the
// wire protocol's server side (spec.md §6): an in-memory track/sector
// store answering MOUNT/TRACK_SEEK/READ_SECTOR/WRITE_SECTOR/UNMOUNT. The
// remote controller itself is explicitly out of scope for this driver
// (spec.md §1), so this is test/dev tooling, not a re-specification of
// the controller: it exists to exercise the session and driver packages
// end-to-end and to give cmd/fs3sh something to talk to locally. It is
// grounded on original_source/fs3_network.c's framing and on the
// teacher's own cmd/w64tool dev-utility pattern.
package mockctl

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"fs3drive/internal/wire"
)

// Controller serves one client connection at a time, matching spec.md's
// non-goal of concurrent clients against one controller.
type Controller struct {
	sectorSize int
	maxTracks  int
	trackSize  int
	log        logrus.FieldLogger

	mu   sync.Mutex
	data map[[2]int][]byte
}

// New constructs a controller over a maxTracks x trackSize address space
// of sectorSize-byte sectors, all initially unwritten (zero-filled on
// first read).
func New(sectorSize, maxTracks, trackSize int, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		sectorSize: sectorSize,
		maxTracks:  maxTracks,
		trackSize:  trackSize,
		log:        log.WithField("component", "mockctl"),
		data:       make(map[[2]int][]byte),
	}
}

// Serve accepts connections on ln until it returns an error (e.g. the
// listener is closed). Each connection is handled to completion before
// the next is accepted.
func (c *Controller) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		c.handleConn(conn)
	}
}

func (c *Controller) handleConn(conn net.Conn) {
	defer conn.Close()
	log := c.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("client connected")

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			log.WithError(err).Debug("connection closed")
			return
		}
		cmd := binary.BigEndian.Uint64(hdr[:])
		op, sector, track, _ := wire.Unpack(cmd)

		var inbound []byte
		if op == wire.OpWriteSector {
			inbound = make([]byte, c.sectorSize)
			if _, err := io.ReadFull(conn, inbound); err != nil {
				log.WithError(err).Warn("short write payload")
				return
			}
		}

		retBit, outbound := c.apply(op, int(sector), int(track), inbound)

		reply := wire.Pack(op, sector, track, retBit)
		var replyHdr [8]byte
		binary.BigEndian.PutUint64(replyHdr[:], reply)
		if _, err := conn.Write(replyHdr[:]); err != nil {
			log.WithError(err).Warn("failed to write reply")
			return
		}
		if op == wire.OpReadSector {
			if _, err := conn.Write(outbound); err != nil {
				log.WithError(err).Warn("failed to write sector payload")
				return
			}
		}

		if op == wire.OpUnmount {
			log.Info("client unmounted")
			return
		}
	}
}

// apply executes one opcode against the in-memory store and returns the
// return-status bit plus, for READ_SECTOR, the sector payload.
func (c *Controller) apply(op uint8, sector, track int, inbound []byte) (retBit uint8, outbound []byte) {
	switch op {
	case wire.OpMount, wire.OpUnmount:
		return 0, nil

	case wire.OpTrackSeek:
		if track < 0 || track >= c.maxTracks {
			return 1, nil
		}
		return 0, nil

	case wire.OpReadSector:
		if !c.validAddr(track, sector) {
			return 1, make([]byte, c.sectorSize)
		}
		c.mu.Lock()
		buf, ok := c.data[[2]int{track, sector}]
		c.mu.Unlock()
		if !ok {
			return 0, make([]byte, c.sectorSize)
		}
		out := make([]byte, c.sectorSize)
		copy(out, buf)
		return 0, out

	case wire.OpWriteSector:
		if !c.validAddr(track, sector) {
			return 1, nil
		}
		stored := make([]byte, c.sectorSize)
		copy(stored, inbound)
		c.mu.Lock()
		c.data[[2]int{track, sector}] = stored
		c.mu.Unlock()
		return 0, nil

	default:
		return 1, nil
	}
}

func (c *Controller) validAddr(track, sector int) bool {
	return track >= 0 && track < c.maxTracks && sector >= 0 && sector < c.trackSize
}

// ListenAndServe is a convenience wrapper that listens on addr and then
// calls Serve.
func (c *Controller) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	c.log.WithField("addr", addr).Info("mock controller listening")
	return c.Serve(ln)
}
