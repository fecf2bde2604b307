package protocol

import (
	"DupHarvest/internal/model"
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrForeignSource is returned for frames not transmitted by the local interface.
	ErrForeignSource = errors.New("frame not sourced from local interface")
	// ErrNotIPv4 is returned for frames that do not carry IPv4.
	ErrNotIPv4 = errors.New("not an IPv4 packet")
	// ErrNotTCP is returned for IPv4 packets that do not carry TCP.
	ErrNotTCP = errors.New("not a TCP segment")
	// ErrMalformed is returned when a header fails to decode.
	ErrMalformed = errors.New("malformed frame")
)

// Parser turns raw Ethernet frames into segments, keeping only traffic sent
// by the interface whose hardware address it was created with. Decoding
// layers are reused between calls, so a Parser must not be shared between
// goroutines.
type Parser struct {
	localMAC net.HardwareAddr

	eth     layers.Ethernet
	ip      layers.IPv4
	tcp     layers.TCP
	payload gopacket.Payload
	dlp     *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser filtering on the given link-layer source address.
func NewParser(localMAC net.HardwareAddr) *Parser {
	p := &Parser{localMAC: localMAC}
	p.dlp = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &p.eth, &p.ip, &p.tcp, &p.payload)
	// ARP, IPv6, UDP and application payloads simply end decoding.
	p.dlp.IgnoreUnsupported = true
	p.decoded = make([]gopacket.LayerType, 0, 4)
	return p
}

// LocalMAC returns the source address frames must carry to be accepted.
func (p *Parser) LocalMAC() net.HardwareAddr {
	return p.localMAC
}

// ParseFrame decodes a raw frame and extracts the segment fields. A header
// that fails to decode yields ErrMalformed and no segment.
func (p *Parser) ParseFrame(data []byte, ci gopacket.CaptureInfo) (*model.Segment, error) {
	err := p.dlp.DecodeLayers(data, &p.decoded)

	if !p.has(layers.LayerTypeEthernet) {
		return nil, fmt.Errorf("%w: no ethernet header", ErrMalformed)
	}
	if !bytes.Equal(p.eth.SrcMAC, p.localMAC) {
		return nil, ErrForeignSource
	}
	if p.eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, ErrNotIPv4
	}
	if !p.has(layers.LayerTypeIPv4) {
		return nil, fmt.Errorf("%w: bad IPv4 header: %v", ErrMalformed, err)
	}
	if p.ip.Protocol != layers.IPProtocolTCP {
		return nil, ErrNotTCP
	}
	if err != nil || !p.has(layers.LayerTypeTCP) {
		return nil, fmt.Errorf("%w: bad TCP header: %v", ErrMalformed, err)
	}

	timestamp := ci.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &model.Segment{
		Timestamp:   timestamp,
		DstIP:       append(net.IP(nil), p.ip.DstIP.To4()...),
		DstPort:     uint16(p.tcp.DstPort),
		Seq:         p.tcp.Seq,
		Ack:         p.tcp.Ack,
		PayloadSize: payloadSize(&p.ip, &p.tcp),
		Flags:       tcpFlags(&p.tcp),
	}, nil
}

func (p *Parser) has(lt gopacket.LayerType) bool {
	for _, d := range p.decoded {
		if d == lt {
			return true
		}
	}
	return false
}

// payloadSize derives the TCP payload length from the IPv4 total length so
// that capture truncation and link padding do not change it. Frames captured
// before segmentation offload may carry a zero total length; those fall back
// to the decoded payload.
func payloadSize(ip *layers.IPv4, tcp *layers.TCP) uint16 {
	headers := int(ip.IHL)*4 + int(tcp.DataOffset)*4
	if int(ip.Length) >= headers && ip.Length != 0 {
		return ip.Length - uint16(headers)
	}
	return uint16(len(tcp.Payload))
}

// tcpFlags packs the TCP flag bits into a uint16.
func tcpFlags(t *layers.TCP) uint16 {
	f := uint16(0)
	if t.FIN {
		f |= model.FlagFIN
	}
	if t.SYN {
		f |= model.FlagSYN
	}
	if t.RST {
		f |= model.FlagRST
	}
	if t.PSH {
		f |= model.FlagPSH
	}
	if t.ACK {
		f |= model.FlagACK
	}
	if t.URG {
		f |= model.FlagURG
	}
	if t.ECE {
		f |= model.FlagECE
	}
	if t.CWR {
		f |= model.FlagCWR
	}
	if t.NS {
		f |= model.FlagNS
	}
	return f
}
