package session

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fs3drive/internal/wire"
)

const testSectorSize = 8

// fakeController is a minimal stand-in for the remote controller, just
// enough to exercise the session's framing: it echoes the opcode/sector/
// track back with a return bit of 0, and for READ_SECTOR replies
// with a fixed payload, for WRITE_SECTOR it captures what it received.
func fakeController(t *testing.T, ln net.Listener, lastWrite *[]byte) {
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		cmd := binary.BigEndian.Uint64(hdr[:])
		op, sector, track, _ := wire.Unpack(cmd)

		if op == wire.OpWriteSector {
			buf := make([]byte, testSectorSize)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			if lastWrite != nil {
				*lastWrite = buf
			}
		}

		reply := wire.Pack(op, sector, track, 0)
		var replyHdr [8]byte
		binary.BigEndian.PutUint64(replyHdr[:], reply)
		if _, err := conn.Write(replyHdr[:]); err != nil {
			return
		}

		if op == wire.OpReadSector {
			payload := make([]byte, testSectorSize)
			for i := range payload {
				payload[i] = 0xAB
			}
			if _, err := conn.Write(payload); err != nil {
				return
			}
		}
	}
}

func TestMountSyscallUnmountLifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeController(t, ln, nil)

	sess := New(ln.Addr().String(), testSectorSize, time.Second, time.Second, nil)
	require.False(t, sess.Mounted())

	reply, err := sess.Syscall(wire.Pack(wire.OpMount, 0, 0, 0), nil)
	require.NoError(t, err)
	require.Equal(t, uint8(0), wire.ReturnOf(reply))
	require.True(t, sess.Mounted())
	require.Equal(t, -1, sess.CurrentTrack())

	reply, err = sess.Syscall(wire.Pack(wire.OpUnmount, 0, 0, 0), nil)
	require.NoError(t, err)
	require.Equal(t, uint8(0), wire.ReturnOf(reply))
	require.False(t, sess.Mounted())
}

func TestWriteSectorSendsPayload(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var captured []byte
	go fakeController(t, ln, &captured)

	sess := New(ln.Addr().String(), testSectorSize, time.Second, time.Second, nil)
	_, err = sess.Syscall(wire.Pack(wire.OpMount, 0, 0, 0), nil)
	require.NoError(t, err)

	payload := []byte("ABCDEFGH")
	_, err = sess.Syscall(wire.Pack(wire.OpWriteSector, 3, 1, 0), payload)
	require.NoError(t, err)
	require.Equal(t, payload, captured)
}

func TestReadSectorFillsSlot(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go fakeController(t, ln, nil)

	sess := New(ln.Addr().String(), testSectorSize, time.Second, time.Second, nil)
	_, err = sess.Syscall(wire.Pack(wire.OpMount, 0, 0, 0), nil)
	require.NoError(t, err)

	slot := make([]byte, testSectorSize)
	_, err = sess.Syscall(wire.Pack(wire.OpReadSector, 1, 2, 0), slot)
	require.NoError(t, err)
	for _, b := range slot {
		require.Equal(t, byte(0xAB), b)
	}
}

func TestSyscallBeforeMountFails(t *testing.T) {
	sess := New("127.0.0.1:1", testSectorSize, time.Second, time.Second, nil)
	_, err := sess.Syscall(wire.Pack(wire.OpTrackSeek, 0, 5, 0), nil)
	require.Error(t, err)
}
