package writer

import (
	"DupHarvest/internal/config"
	"DupHarvest/internal/model"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS duplicate_segments (
    SweptAt     DateTime,
    ProbeID     String,
    Interface   String,
    DstIP       String,
    DstPort     UInt16,
    Seq         UInt32,
    Ack         UInt32,
    PayloadSize UInt16,
    FirstSeen   DateTime,
    RepeatCount UInt64,
    Flags       UInt16
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(SweptAt)
ORDER BY (Interface, SweptAt);
`

const writeTimeout = 10 * time.Second

// ClickHouseWriter stores every report entry as a row in duplicate_segments.
type ClickHouseWriter struct {
	conn    driver.Conn
	probeID string
	iface   string
	logger  zerolog.Logger
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, probeID, iface string, logger zerolog.Logger) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info().Str("host", cfg.Host).Msg("connected to ClickHouse and ensured table exists")

	return &ClickHouseWriter{
		conn:    conn,
		probeID: probeID,
		iface:   iface,
		logger:  logger.With().Str("component", "clickhouse").Logger(),
	}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := pingOrClose(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// pingOrClose checks a freshly opened connection and releases it if the
// server does not answer.
func pingOrClose(conn driver.Conn) error {
	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return nil
}

// Name identifies the writer.
func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// Write inserts the report entries in a single batch.
func (w *ClickHouseWriter) Write(report *model.Report) error {
	rows := Rows(report, w.probeID, w.iface)
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO duplicate_segments")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Debug().Int("rows", len(rows)).Msg("report stored")
	return nil
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

// Rows flattens a report into duplicate_segments column order.
func Rows(report *model.Report, probeID, iface string) [][]interface{} {
	rows := make([][]interface{}, 0, len(report.Duplicates))
	for _, e := range report.Duplicates {
		fp := e.Fingerprint
		rows = append(rows, []interface{}{
			report.SweptAt,
			probeID,
			iface,
			net.IP(fp.DstIP[:]).String(),
			fp.DstPort,
			fp.Seq,
			fp.Ack,
			fp.PayloadSize,
			e.Record.FirstSeen,
			e.Record.RepeatCount,
			e.Record.Flags,
		})
	}
	return rows
}
