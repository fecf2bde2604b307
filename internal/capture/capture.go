package capture

import (
	"DupHarvest/internal/config"
	"DupHarvest/internal/engine/ingest"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	// ErrInterfaceNotFound is returned when no interface has the requested name.
	ErrInterfaceNotFound = errors.New("network interface not found")
	// ErrNoHardwareAddr is returned for interfaces without a link-layer address.
	ErrNoHardwareAddr = errors.New("network interface has no hardware address")
)

// LocalMAC returns the hardware address of the named interface.
func LocalMAC(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceNotFound, name, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHardwareAddr, name)
	}
	return iface.HardwareAddr, nil
}

// LiveSource reads frames from a live pcap handle.
type LiveSource struct {
	handle *pcap.Handle
}

// OpenLive opens the named interface for capture.
func OpenLive(name string, cfg config.CaptureConfig) (*LiveSource, error) {
	timeout, err := cfg.ReadTimeoutDuration()
	if err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(name, cfg.SnapshotLen, cfg.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", name, err)
	}
	if handle.LinkType() != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("device %s has unsupported link type %s", name, handle.LinkType())
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}
	return &LiveSource{handle: handle}, nil
}

// ReadPacketData returns the next frame. An expired read timeout is reported
// as ingest.ErrReadTimeout.
func (s *LiveSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ingest.ErrReadTimeout
	}
	return data, ci, err
}

// Close closes the pcap handle.
func (s *LiveSource) Close() {
	s.handle.Close()
}
