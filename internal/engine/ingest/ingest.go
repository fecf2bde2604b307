package ingest

import (
	"DupHarvest/internal/engine/protocol"
	"DupHarvest/internal/metrics"
	"DupHarvest/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
)

// ErrReadTimeout is returned by a source when no frame arrived within its
// read timeout. The ingest loop treats it as a chance to check for shutdown.
var ErrReadTimeout = errors.New("capture read timeout")

// Observer receives every qualifying segment.
type Observer interface {
	Observe(seg *model.Segment)
}

// Ingester drains a capture source into the dedup table.
type Ingester struct {
	source   gopacket.PacketDataSource
	parser   *protocol.Parser
	observer Observer
	logger   zerolog.Logger
	frames   atomic.Uint64
}

// New creates an ingester reading frames from source.
func New(source gopacket.PacketDataSource, parser *protocol.Parser, observer Observer, logger zerolog.Logger) *Ingester {
	return &Ingester{
		source:   source,
		parser:   parser,
		observer: observer,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Run reads frames until the context is cancelled, the source is exhausted,
// or the source fails. Only a source failure is returned as an error.
func (i *Ingester) Run(ctx context.Context) error {
	i.logger.Info().Str("local_mac", i.parser.LocalMAC().String()).Msg("ingest started")
	for {
		if ctx.Err() != nil {
			i.logger.Info().Uint64("frames", i.frames.Load()).Msg("ingest stopped")
			return nil
		}

		data, ci, err := i.source.ReadPacketData()
		if err != nil {
			switch {
			case errors.Is(err, ErrReadTimeout):
				continue
			case errors.Is(err, io.EOF):
				i.logger.Info().Uint64("frames", i.frames.Load()).Msg("capture source exhausted")
				return nil
			default:
				return fmt.Errorf("capture read failed: %w", err)
			}
		}
		i.frames.Add(1)
		i.Handle(data, ci)
	}
}

// Handle parses one frame and observes it if it qualifies. Frames that do
// not qualify are dropped without touching the table.
func (i *Ingester) Handle(data []byte, ci gopacket.CaptureInfo) {
	seg, err := i.parser.ParseFrame(data, ci)
	if err != nil {
		metrics.FramesTotal.WithLabelValues(outcome(err)).Inc()
		return
	}
	i.observer.Observe(seg)
	metrics.FramesTotal.WithLabelValues(metrics.FrameObserved).Inc()
}

// Frames returns how many frames have been read so far.
func (i *Ingester) Frames() uint64 {
	return i.frames.Load()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, protocol.ErrForeignSource):
		return metrics.FrameForeignSource
	case errors.Is(err, protocol.ErrNotIPv4):
		return metrics.FrameNotIPv4
	case errors.Is(err, protocol.ErrNotTCP):
		return metrics.FrameNotTCP
	default:
		return metrics.FrameMalformed
	}
}
