package manager

import (
	"DupHarvest/internal/config"
	"DupHarvest/internal/engine/ingest"
	"DupHarvest/internal/engine/writer"
	"DupHarvest/internal/testutil"
	pcapfile "DupHarvest/pkg/pcap"
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replayFile(t *testing.T, frames ...[]byte) string {
	t.Helper()
	cis := make([]gopacket.CaptureInfo, len(frames))
	base := time.Unix(1700000000, 0)
	for i, f := range frames {
		cis[i] = gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(f), Length: len(f)}
	}
	path := filepath.Join(t.TempDir(), "replay.pcap")
	require.NoError(t, pcapfile.WriteFile(path, frames, cis))
	return path
}

func TestRun_ReplayReportsDuplicates(t *testing.T) {
	dst := net.IPv4(10, 0, 0, 2)
	retransmit := testutil.TCPFrame{DstIP: dst, SrcPort: 40000, DstPort: 443, Seq: 1000, Ack: 2000, ACK: true, PSH: true, Payload: []byte("hello")}.Bytes()
	other := testutil.TCPFrame{DstIP: dst, SrcPort: 40000, DstPort: 443, Seq: 1005, Ack: 2000, ACK: true, Payload: []byte("x")}.Bytes()
	foreign := testutil.TCPFrame{SrcMAC: testutil.RemoteMAC, DstIP: dst, DstPort: 443, Seq: 1000, Ack: 2000}.Bytes()

	path := replayFile(t, retransmit, retransmit, foreign, other, retransmit, testutil.UDPFrame(testutil.LocalMAC, dst))

	var out bytes.Buffer
	m, err := NewManager(Options{
		Config:    config.Default(),
		Interface: "eth0",
		PcapFile:  path,
		LocalMAC:  testutil.LocalMAC,
		Stdout:    &out,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ProbeID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, 2, m.Table().Len())
	assert.True(t, strings.HasPrefix(out.String(), writer.Separator+"\n"))
	assert.Contains(t, out.String(), "10.0.0.2,443,1000,2000,5: first_seen=")
	assert.Contains(t, out.String(), "repeat_count=2 flags=0x018 (PSH|ACK)")
	assert.NotContains(t, out.String(), "10.0.0.2,443,1005,2000,1")
}

func TestNewManager_MissingReplayFile(t *testing.T) {
	_, err := NewManager(Options{
		Interface: "eth0",
		PcapFile:  filepath.Join(t.TempDir(), "missing.pcap"),
		LocalMAC:  testutil.LocalMAC,
		Logger:    zerolog.Nop(),
	})
	assert.Error(t, err)
}

type failingSource struct{}

func (failingSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return nil, gopacket.CaptureInfo{}, errors.New("device went away")
}

func TestRun_CaptureFailureStopsEngine(t *testing.T) {
	var out bytes.Buffer
	m, err := NewManager(Options{
		Interface: "eth0",
		Source:    failingSource{},
		LocalMAC:  testutil.LocalMAC,
		Stdout:    &out,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device went away")
	// the reaper still took its final sweep
	assert.Contains(t, out.String(), writer.Separator)
}

type brokenStdout struct{}

func (brokenStdout) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type blockingSource struct{}

func (blockingSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	time.Sleep(5 * time.Millisecond)
	return nil, gopacket.CaptureInfo{}, ingest.ErrReadTimeout
}

func TestRun_StdoutFailureIsFatal(t *testing.T) {
	m, err := NewManager(Options{
		Interface: "eth0",
		Source:    blockingSource{},
		LocalMAC:  testutil.LocalMAC,
		Stdout:    brokenStdout{},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = m.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.NoError(t, ctx.Err())
}
