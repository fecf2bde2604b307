package ingest

import (
	"DupHarvest/internal/engine/dedup"
	"DupHarvest/internal/engine/protocol"
	"DupHarvest/internal/testutil"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource replays frames, then returns its terminal error forever.
type sliceSource struct {
	frames [][]byte
	errs   []error // returned before frames, in order
	final  error
}

func (s *sliceSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, gopacket.CaptureInfo{}, err
	}
	if len(s.frames) == 0 {
		return nil, gopacket.CaptureInfo{}, s.final
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f)}, nil
}

func localFrame(seq uint32) []byte {
	return testutil.TCPFrame{DstIP: net.IPv4(10, 1, 1, 1), DstPort: 8080, Seq: seq, Ack: 9, ACK: true, Payload: []byte("data")}.Bytes()
}

func newIngester(src gopacket.PacketDataSource, table *dedup.Table) *Ingester {
	return New(src, protocol.NewParser(testutil.LocalMAC), table, zerolog.Nop())
}

func TestRun_ObservesOnlyQualifyingFrames(t *testing.T) {
	table := dedup.New(time.Minute)
	foreign := testutil.TCPFrame{SrcMAC: testutil.RemoteMAC, DstIP: net.IPv4(10, 1, 1, 1), DstPort: 8080, Seq: 1}

	src := &sliceSource{
		errs: []error{ErrReadTimeout},
		frames: [][]byte{
			localFrame(1),
			localFrame(1),
			localFrame(2),
			foreign.Bytes(),
			testutil.UDPFrame(testutil.LocalMAC, net.IPv4(10, 1, 1, 1)),
			testutil.IPv6TCPFrame(testutil.LocalMAC),
			testutil.ARPFrame(testutil.LocalMAC),
			{0xde, 0xad},
		},
		final: io.EOF,
	}
	ing := newIngester(src, table)

	require.NoError(t, ing.Run(context.Background()))
	assert.Equal(t, uint64(8), ing.Frames())
	assert.Equal(t, 2, table.Len())

	entries := table.Snapshot()
	counts := map[uint32]uint64{}
	for _, e := range entries {
		counts[e.Fingerprint.Seq] = e.Record.RepeatCount
	}
	assert.Equal(t, map[uint32]uint64{1: 1, 2: 0}, counts)
}

func TestRun_NonQualifyingFramesNeverTouchTable(t *testing.T) {
	table := dedup.New(time.Minute)
	foreign := testutil.TCPFrame{SrcMAC: testutil.RemoteMAC, DstIP: net.IPv4(10, 1, 1, 1), DstPort: 8080, Seq: 1}
	ing := newIngester(&sliceSource{}, table)

	ing.Handle(foreign.Bytes(), gopacket.CaptureInfo{})
	ing.Handle(testutil.UDPFrame(testutil.LocalMAC, net.IPv4(1, 1, 1, 1)), gopacket.CaptureInfo{})
	ing.Handle(testutil.IPv6TCPFrame(testutil.LocalMAC), gopacket.CaptureInfo{})
	assert.Equal(t, 0, table.Len())
}

func TestRun_SourceFailureIsReturned(t *testing.T) {
	boom := errors.New("interface went down")
	ing := newIngester(&sliceSource{frames: [][]byte{localFrame(1)}, final: boom}, dedup.New(time.Minute))

	err := ing.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ing := newIngester(&sliceSource{final: ErrReadTimeout}, dedup.New(time.Minute))
	assert.NoError(t, ing.Run(ctx))
}

func TestHandle_TruncatedTCPHeaderNeverTouchesTable(t *testing.T) {
	table := dedup.New(time.Minute)
	ing := newIngester(&sliceSource{}, table)

	full := localFrame(1)
	for _, cut := range []int{14 + 20 + 4, 14 + 20 + 19} {
		for i := 0; i < 3; i++ {
			ing.Handle(full[:cut], gopacket.CaptureInfo{})
		}
	}

	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Sweep(time.Now()).Duplicates)
}
