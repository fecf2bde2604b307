package writer

import (
	"DupHarvest/internal/config"
	"DupHarvest/internal/model"
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// publisher is the subset of *nats.Conn used by NATSWriter.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSWriter publishes each report carrying duplicates to a NATS subject as
// a protobuf Struct.
type NATSWriter struct {
	nc      publisher
	conn    *nats.Conn
	subject string
	probeID string
	iface   string
	logger  zerolog.Logger
}

// NewNATSWriter connects to NATS and returns a writer for the configured subject.
func NewNATSWriter(cfg config.NATSConfig, probeID, iface string, logger zerolog.Logger) (*NATSWriter, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("dupharvest-"+probeID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("connected to NATS")
	w := newNATSWriter(nc, cfg.Subject, probeID, iface, logger)
	w.conn = nc
	return w, nil
}

func newNATSWriter(nc publisher, subject, probeID, iface string, logger zerolog.Logger) *NATSWriter {
	return &NATSWriter{
		nc:      nc,
		subject: subject,
		probeID: probeID,
		iface:   iface,
		logger:  logger.With().Str("component", "nats").Logger(),
	}
}

// Name identifies the writer.
func (w *NATSWriter) Name() string {
	return "nats"
}

// Write serializes the report and publishes it. Empty reports are skipped.
func (w *NATSWriter) Write(report *model.Report) error {
	if len(report.Duplicates) == 0 {
		return nil
	}
	msg, err := EncodeReport(report, w.probeID, w.iface)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := w.nc.Publish(w.subject, data); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}
	w.logger.Debug().Int("duplicates", len(report.Duplicates)).Msg("report published")
	return nil
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.conn == nil {
		return nil
	}
	if err := w.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	w.logger.Info().Msg("NATS connection drained and closed")
	return nil
}

// EncodeReport converts a report into a protobuf Struct.
func EncodeReport(report *model.Report, probeID, iface string) (*structpb.Struct, error) {
	duplicates := make([]interface{}, 0, len(report.Duplicates))
	for _, e := range report.Duplicates {
		fp := e.Fingerprint
		duplicates = append(duplicates, map[string]interface{}{
			"fingerprint":  fp.String(),
			"dst_ip":       net.IP(fp.DstIP[:]).String(),
			"dst_port":     uint32(fp.DstPort),
			"seq":          fp.Seq,
			"ack":          fp.Ack,
			"payload_size": uint32(fp.PayloadSize),
			"first_seen":   e.Record.FirstSeen.UTC().Format(time.RFC3339Nano),
			"repeat_count": e.Record.RepeatCount,
			"flags":        uint32(e.Record.Flags),
		})
	}

	msg, err := structpb.NewStruct(map[string]interface{}{
		"probe_id":   probeID,
		"interface":  iface,
		"swept_at":   report.SweptAt.UTC().Format(time.RFC3339Nano),
		"live":       report.Live,
		"evicted":    report.Evicted,
		"duplicates": duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return msg, nil
}
