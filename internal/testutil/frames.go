// Package testutil builds synthetic frames for package tests.
package testutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	LocalMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	RemoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// TCPFrame describes an Ethernet/IPv4/TCP frame.
type TCPFrame struct {
	SrcMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	SYN     bool
	ACK     bool
	PSH     bool
	FIN     bool
	Payload []byte
}

// Bytes serializes the frame with lengths and checksums filled in.
func (f TCPFrame) Bytes() []byte {
	src := f.SrcMAC
	if src == nil {
		src = LocalMAC
	}
	srcIP := f.SrcIP
	if srcIP == nil {
		srcIP = net.IPv4(192, 168, 1, 10)
	}

	eth := &layers.Ethernet{SrcMAC: src, DstMAC: RemoteMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: srcIP.To4(), DstIP: f.DstIP.To4()}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(f.SrcPort),
		DstPort: layers.TCPPort(f.DstPort),
		Seq:     f.Seq,
		Ack:     f.Ack,
		SYN:     f.SYN,
		ACK:     f.ACK,
		PSH:     f.PSH,
		FIN:     f.FIN,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, tcp, gopacket.Payload(f.Payload))
}

// UDPFrame returns an Ethernet/IPv4/UDP frame sent from src.
func UDPFrame(src net.HardwareAddr, dst net.IP) []byte {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: RemoteMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(192, 168, 1, 10).To4(), DstIP: dst.To4()}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, udp, gopacket.Payload([]byte("query")))
}

// IPv6TCPFrame returns an Ethernet/IPv6/TCP frame sent from src.
func IPv6TCPFrame(src net.HardwareAddr) []byte {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: RemoteMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP,
		SrcIP: net.ParseIP("fd00::1"), DstIP: net.ParseIP("fd00::2")}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, Seq: 1, ACK: true, Window: 65535}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, tcp, gopacket.Payload([]byte("hello")))
}

// ARPFrame returns an ARP request sent from src.
func ARPFrame(src net.HardwareAddr) []byte {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   src,
		SourceProtAddress: net.IPv4(192, 168, 1, 10).To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.IPv4(192, 168, 1, 1).To4(),
	}
	return serialize(eth, arp)
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
