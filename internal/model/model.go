package model

import (
	"fmt"
	"net"
	"time"
)

// TCP flag bits as carried in Segment.Flags and Record.Flags.
const (
	FlagFIN uint16 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

// Segment is the fixed-shape record extracted from a locally sourced IPv4/TCP frame.
type Segment struct {
	Timestamp   time.Time
	DstIP       net.IP
	DstPort     uint16
	Seq         uint32
	Ack         uint32
	PayloadSize uint16
	Flags       uint16
}

// Fingerprint identifies a transmitted segment. Two segments with the same
// destination, port, sequence, acknowledgment and payload size share a
// fingerprint regardless of flags. It is comparable and used as a map key.
type Fingerprint struct {
	DstIP       [4]byte
	DstPort     uint16
	Seq         uint32
	Ack         uint32
	PayloadSize uint16
}

// String renders the fingerprint as "dst,port,seq,ack,size".
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s,%d,%d,%d,%d",
		net.IP(f.DstIP[:]).String(), f.DstPort, f.Seq, f.Ack, f.PayloadSize)
}

// Record is the tracking state kept for one fingerprint.
// FirstSeen and Flags are set once, when the record is created.
type Record struct {
	FirstSeen   time.Time
	RepeatCount uint64
	Flags       uint16
}

// Entry pairs a fingerprint with a copy of its record.
type Entry struct {
	Fingerprint Fingerprint
	Record      Record
}

// Report is the outcome of a single sweep over the dedup table.
type Report struct {
	SweptAt    time.Time
	Duplicates []Entry
	Live       int // records left in the table after eviction
	Evicted    int
}

// FlagString renders TCP flag bits as e.g. "SYN|ACK".
func FlagString(flags uint16) string {
	names := []string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR", "NS"}
	out := ""
	for i, name := range names {
		if flags&(1<<i) == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	if out == "" {
		return "-"
	}
	return out
}
