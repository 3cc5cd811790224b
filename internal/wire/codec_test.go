package wire

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// cmdFields is the decoded shape of a command block, used by
// TestPackUnpackStructuralDiff to compare round trips field-by-field
// instead of tuple-by-tuple.
type cmdFields struct {
	Op     uint8
	Sector uint16
	Track  uint32
	Ret    uint8
}

func decode(w uint64) cmdFields {
	op, sector, track, ret := Unpack(w)
	return cmdFields{Op: op, Sector: sector, Track: track, Ret: ret}
}

func TestPackUnpackInverse(t *testing.T) {
	cases := []struct {
		op     uint8
		sector uint16
		track  uint32
		ret    uint8
	}{
		{OpMount, 0, 0, 0},
		{OpWriteSector, 0x1234, 0xDEADBEEF, 1},
		{OpReadSector, 0xFFFF, 0xFFFFFFFF, 0},
		{OpTrackSeek, 0, 1, 0},
		{OpUnmount, 0, 0, 1},
	}
	for _, c := range cases {
		w := Pack(c.op, c.sector, c.track, c.ret)
		op, sector, track, ret := Unpack(w)
		require.Equal(t, c.op, op)
		require.Equal(t, c.sector, sector)
		require.Equal(t, c.track, track)
		require.Equal(t, c.ret, ret)
	}
}

func TestPackUnpackInverseRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		op := uint8(rng.Intn(16))
		sector := uint16(rng.Intn(1 << 16))
		track := rng.Uint32()
		ret := uint8(rng.Intn(2))

		w := Pack(op, sector, track, ret)
		gotOp, gotSector, gotTrack, gotRet := Unpack(w)
		require.Equal(t, op, gotOp)
		require.Equal(t, sector, gotSector)
		require.Equal(t, track, gotTrack)
		require.Equal(t, ret, gotRet)
	}
}

// S6 from spec.md §8.
func TestScenarioS6(t *testing.T) {
	w := Pack(3, 0x1234, 0xDEADBEEF, 1)
	op, sector, track, ret := Unpack(w)
	require.Equal(t, uint8(3), op)
	require.Equal(t, uint16(0x1234), sector)
	require.Equal(t, uint32(0xDEADBEEF), track)
	require.Equal(t, uint8(1), ret)
}

func TestOpcodeOfAndReturnOf(t *testing.T) {
	w := Pack(OpReadSector, 7, 9, 1)
	require.Equal(t, uint8(OpReadSector), OpcodeOf(w))
	require.Equal(t, uint8(1), ReturnOf(w))
}

func TestReservedBitsAlwaysZero(t *testing.T) {
	w := Pack(0xFF, 0xFFFF, 0xFFFFFFFF, 0xFF)
	require.Zero(t, w&mask(11), "reserved low 11 bits must stay zero")
}

func TestPackUnpackStructuralDiff(t *testing.T) {
	want := cmdFields{Op: OpWriteSector, Sector: 0x1234, Track: 0xDEADBEEF, Ret: 1}
	got := decode(Pack(want.Op, want.Sector, want.Track, want.Ret))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHasSectorPayload(t *testing.T) {
	require.True(t, HasSectorPayload(OpReadSector))
	require.True(t, HasSectorPayload(OpWriteSector))
	require.False(t, HasSectorPayload(OpMount))
	require.False(t, HasSectorPayload(OpTrackSeek))
	require.False(t, HasSectorPayload(OpUnmount))
}
