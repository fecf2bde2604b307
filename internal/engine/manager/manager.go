package manager

import (
	"DupHarvest/internal/api"
	"DupHarvest/internal/capture"
	"DupHarvest/internal/config"
	"DupHarvest/internal/engine/dedup"
	"DupHarvest/internal/engine/ingest"
	"DupHarvest/internal/engine/protocol"
	"DupHarvest/internal/engine/reaper"
	"DupHarvest/internal/engine/writer"
	"DupHarvest/internal/model"
	pcapfile "DupHarvest/pkg/pcap"
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options describes one engine run.
type Options struct {
	Config    *config.Config
	Interface string
	Logger    zerolog.Logger

	// PcapFile replays a capture file instead of opening Interface live.
	PcapFile string

	// LocalMAC overrides the hardware address looked up from Interface.
	LocalMAC net.HardwareAddr

	// Source overrides both live capture and PcapFile.
	Source gopacket.PacketDataSource

	// Stdout receives the text reports. Defaults to os.Stdout.
	Stdout io.Writer
}

type closer interface {
	Close() error
}

// Manager owns the dedup table and runs the ingest path and the reaper
// against it, together with the optional API surfaces.
type Manager struct {
	probeID  string
	iface    string
	table    *dedup.Table
	ingester *ingest.Ingester
	reaper   *reaper.Reaper
	api      *api.Server
	health   *api.HealthServer
	release  func()
	sinks    []closer
	logger   zerolog.Logger
}

// NewManager resolves the local address, opens the capture source and the
// configured report sinks, and wires them around a fresh table. Nothing runs
// until Run is called.
func NewManager(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	interval, err := cfg.Engine.SweepIntervalDuration()
	if err != nil {
		return nil, err
	}
	retention, err := cfg.Engine.RetentionDuration()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		probeID: uuid.NewString(),
		iface:   opts.Interface,
		release: func() {},
	}
	m.logger = opts.Logger.With().Str("probe_id", m.probeID).Logger()

	if !cfg.Engine.RetentionExceedsInterval() {
		m.logger.Warn().
			Dur("interval", interval).
			Dur("retention", retention).
			Msg("retention does not exceed sweep interval, some duplicates may be evicted before they are reported")
	}

	localMAC := opts.LocalMAC
	if localMAC == nil {
		localMAC, err = capture.LocalMAC(opts.Interface)
		if err != nil {
			return nil, err
		}
	}

	source, err := m.openSource(opts, cfg)
	if err != nil {
		return nil, err
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	sinks, err := m.openSinks(cfg)
	if err != nil {
		m.close()
		return nil, err
	}

	m.table = dedup.New(retention,
		dedup.WithShards(cfg.Engine.Shards),
		dedup.WithReportThreshold(uint64(cfg.Engine.ReportThreshold)),
	)
	m.ingester = ingest.New(source, protocol.NewParser(localMAC), m.table, m.logger)
	m.reaper = reaper.New(m.table, interval, writer.NewTextWriter(stdout), sinks, m.logger)

	if cfg.API.Enabled {
		m.api = api.NewServer(cfg.API.ListenAddr, api.Deps{
			Table:     m.table,
			Reaper:    m.reaper,
			Ingest:    m.ingester,
			ProbeID:   m.probeID,
			Interface: m.iface,
		}, m.logger)
		if cfg.API.GRPCListenAddr != "" {
			m.health = api.NewHealthServer(cfg.API.GRPCListenAddr, m.logger)
		}
	}
	return m, nil
}

func (m *Manager) openSource(opts Options, cfg *config.Config) (gopacket.PacketDataSource, error) {
	switch {
	case opts.Source != nil:
		return opts.Source, nil
	case opts.PcapFile != "":
		r, err := pcapfile.NewReader(opts.PcapFile)
		if err != nil {
			return nil, err
		}
		m.release = r.Close
		m.logger.Info().Str("file", opts.PcapFile).Msg("replaying capture file")
		return r, nil
	default:
		live, err := capture.OpenLive(opts.Interface, cfg.Capture)
		if err != nil {
			return nil, err
		}
		m.release = live.Close
		m.logger.Info().Str("interface", opts.Interface).Msg("live capture opened")
		return live, nil
	}
}

func (m *Manager) openSinks(cfg *config.Config) ([]model.Writer, error) {
	var sinks []model.Writer
	if cfg.NATS.Enabled {
		w, err := writer.NewNATSWriter(cfg.NATS, m.probeID, m.iface, m.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
		m.sinks = append(m.sinks, w)
	}
	if cfg.ClickHouse.Enabled {
		w, err := writer.NewClickHouseWriter(cfg.ClickHouse, m.probeID, m.iface, m.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
		m.sinks = append(m.sinks, w)
	}
	return sinks, nil
}

// Run starts every component and blocks until the context is cancelled, the
// capture source is exhausted, or a component fails. The first failure stops
// all other components and is returned. The reaper always takes a final sweep
// on the way out.
func (m *Manager) Run(ctx context.Context) error {
	defer m.close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		// A clean end of input stops the whole engine.
		defer cancel()
		return m.ingester.Run(runCtx)
	})
	g.Go(func() error {
		return m.reaper.Run(runCtx)
	})
	if m.api != nil {
		g.Go(func() error {
			return m.api.Run(runCtx)
		})
	}
	if m.health != nil {
		m.health.SetServing(true)
		g.Go(func() error {
			return m.health.Run(runCtx)
		})
	}

	m.logger.Info().Str("interface", m.iface).Msg("engine started")
	err := g.Wait()
	if m.health != nil {
		m.health.SetServing(false)
	}
	if err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	m.logger.Info().Uint64("frames", m.ingester.Frames()).Msg("engine stopped")
	return nil
}

// Table returns the table owned by the manager.
func (m *Manager) Table() *dedup.Table {
	return m.table
}

// ProbeID returns the identifier stamped on published reports.
func (m *Manager) ProbeID() string {
	return m.probeID
}

func (m *Manager) close() {
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("failed to close report sink")
		}
	}
	m.sinks = nil
	m.release()
	m.release = func() {}
}
