// Package session owns the single TCP connection to the remote sector
// controller and the strict request/response framing described in
// spec.md §4.2. It is grounded on original_source/fs3_network.c for the
// framing order and on the teacher's own net.Listen/net.Conn usage
// (cmd/wicos64-server/main.go, internal/server/discovery.go) for Go
// socket idiom.
package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"fs3drive/internal/wire"
)

const noTrack = -1

// Session is not safe for concurrent use: spec.md §5 specifies a single
// synchronous caller and a strictly FIFO socket.
type Session struct {
	addr       string
	sectorSize int
	dialTO     time.Duration
	ioTO       time.Duration
	log        logrus.FieldLogger

	conn         net.Conn
	mounted      bool
	currentTrack int
}

// New constructs a disconnected session targeting addr. sectorSize is the
// fixed per-sector payload length exchanged alongside READ_SECTOR/
// WRITE_SECTOR command blocks.
func New(addr string, sectorSize int, dialTimeout, ioTimeout time.Duration, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		addr:         addr,
		sectorSize:   sectorSize,
		dialTO:       dialTimeout,
		ioTO:         ioTimeout,
		log:          log.WithField("component", "session"),
		currentTrack: noTrack,
	}
}

// Mounted reports whether the session currently owns a live connection.
func (s *Session) Mounted() bool { return s.mounted }

// CurrentTrack returns the session's current-track shadow, or noTrack
// ("none") if unknown. It is reset to noTrack on every successful MOUNT
// and never otherwise (spec.md §4.4).
func (s *Session) CurrentTrack() int { return s.currentTrack }

// SetCurrentTrack lets the caller record a track change that was
// performed via a successful TRACK_SEEK syscall.
func (s *Session) SetCurrentTrack(t int) { s.currentTrack = t }

// Syscall sends cmd and returns the decoded reply command block. For
// WRITE_SECTOR, payloadSlot is read as the outbound sector; for
// READ_SECTOR, payloadSlot is filled with the inbound sector. Syscalls are
// synchronous: the caller blocks until completion or I/O failure
// (spec.md §4.2, "Cancellation: None").
func (s *Session) Syscall(cmd uint64, payloadSlot []byte) (uint64, error) {
	op := wire.OpcodeOf(cmd)

	if op == wire.OpMount {
		if s.mounted {
			return 0, fmt.Errorf("session already mounted")
		}
		conn, err := s.dial()
		if err != nil {
			return 0, fmt.Errorf("dial %s: %w", s.addr, err)
		}
		s.conn = conn
		s.mounted = true
		s.currentTrack = noTrack
		s.log.WithField("addr", s.addr).Info("connected to controller")
	}

	if !s.mounted {
		return 0, fmt.Errorf("session not connected")
	}

	if err := s.writeDeadline(); err != nil {
		return 0, err
	}

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], cmd)
	if err := s.writeFull(hdr[:]); err != nil {
		return 0, fmt.Errorf("write command block: %w", err)
	}

	if op == wire.OpWriteSector {
		if len(payloadSlot) != s.sectorSize {
			return 0, fmt.Errorf("write payload must be %d bytes, got %d", s.sectorSize, len(payloadSlot))
		}
		if err := s.writeFull(payloadSlot); err != nil {
			return 0, fmt.Errorf("write sector payload: %w", err)
		}
	}

	if err := s.readDeadline(); err != nil {
		return 0, err
	}

	var replyHdr [8]byte
	if err := s.readFull(replyHdr[:]); err != nil {
		return 0, fmt.Errorf("read reply command block: %w", err)
	}
	reply := binary.BigEndian.Uint64(replyHdr[:])

	if op == wire.OpReadSector {
		if len(payloadSlot) != s.sectorSize {
			return 0, fmt.Errorf("read payload slot must be %d bytes, got %d", s.sectorSize, len(payloadSlot))
		}
		if err := s.readFull(payloadSlot); err != nil {
			return 0, fmt.Errorf("read sector payload: %w", err)
		}
	}

	if op == wire.OpUnmount {
		_ = s.conn.Close()
		s.conn = nil
		s.mounted = false
		s.log.Info("disconnected from controller")
	}

	return reply, nil
}

func (s *Session) dial() (net.Conn, error) {
	if s.dialTO > 0 {
		return net.DialTimeout("tcp", s.addr, s.dialTO)
	}
	return net.Dial("tcp", s.addr)
}

func (s *Session) writeDeadline() error {
	if s.ioTO <= 0 || s.conn == nil {
		return nil
	}
	return s.conn.SetWriteDeadline(time.Now().Add(s.ioTO))
}

func (s *Session) readDeadline() error {
	if s.ioTO <= 0 || s.conn == nil {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.ioTO))
}

func (s *Session) writeFull(b []byte) error {
	n, err := s.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d of %d bytes", errShort, n, len(b))
	}
	return nil
}

func (s *Session) readFull(b []byte) error {
	_, err := io.ReadFull(s.conn, b)
	return err
}

var errShort = fmt.Errorf("short write")
