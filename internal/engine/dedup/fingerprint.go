package dedup

import (
	"DupHarvest/internal/model"
	"encoding/binary"
	"net"

	"github.com/cespare/xxhash/v2"
)

const fingerprintByteSize = 16

// NewFingerprint builds the composite key for a segment. Equal inputs give
// equal fingerprints and any differing component gives a different one.
func NewFingerprint(dst net.IP, dstPort uint16, seq, ack uint32, payloadSize uint16) model.Fingerprint {
	fp := model.Fingerprint{
		DstPort:     dstPort,
		Seq:         seq,
		Ack:         ack,
		PayloadSize: payloadSize,
	}
	copy(fp.DstIP[:], dst.To4())
	return fp
}

// FingerprintOf builds the fingerprint of a parsed segment.
func FingerprintOf(seg *model.Segment) model.Fingerprint {
	return NewFingerprint(seg.DstIP, seg.DstPort, seg.Seq, seg.Ack, seg.PayloadSize)
}

// hashFingerprint packs the fingerprint into its wire order and hashes it.
func hashFingerprint(fp model.Fingerprint) uint64 {
	var buf [fingerprintByteSize]byte
	copy(buf[0:4], fp.DstIP[:])
	binary.BigEndian.PutUint16(buf[4:6], fp.DstPort)
	binary.BigEndian.PutUint32(buf[6:10], fp.Seq)
	binary.BigEndian.PutUint32(buf[10:14], fp.Ack)
	binary.BigEndian.PutUint16(buf[14:16], fp.PayloadSize)
	return xxhash.Sum64(buf[:])
}
