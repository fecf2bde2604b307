package pcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrUnsupportedLinkType is returned for captures that are not Ethernet.
var ErrUnsupportedLinkType = errors.New("capture file link type is not ethernet")

// Reader replays frames from a pcap or pcapng file. It satisfies
// gopacket.PacketDataSource and returns io.EOF once the file is exhausted.
type Reader struct {
	file   *os.File
	source gopacket.PacketDataSource
}

// NewReader opens a capture file. Both classic pcap and pcapng are accepted.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	source, err := openSource(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", filePath, err)
	}
	return &Reader{file: file, source: source}, nil
}

func openSource(file *os.File) (gopacket.PacketDataSource, error) {
	if r, err := pcapgo.NewReader(bufio.NewReader(file)); err == nil {
		if r.LinkType() != layers.LinkTypeEthernet {
			return nil, ErrUnsupportedLinkType
		}
		return r, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ng, err := pcapgo.NewNgReader(bufio.NewReader(file), pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, err
	}
	if ng.LinkType() != layers.LinkTypeEthernet {
		return nil, ErrUnsupportedLinkType
	}
	return ng, nil
}

// ReadPacketData returns the next frame in the file.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return r.source.ReadPacketData()
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.file.Close()
}

// WriteFile writes frames to a classic pcap file with Ethernet link type.
func WriteFile(filePath string, frames [][]byte, cis []gopacket.CaptureInfo) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write file header: %w", err)
	}
	for i, frame := range frames {
		if err := w.WritePacket(cis[i], frame); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", i, err)
		}
	}
	return nil
}
