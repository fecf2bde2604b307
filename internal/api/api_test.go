package api

import (
	"DupHarvest/internal/engine/dedup"
	"DupHarvest/internal/engine/reaper"
	"DupHarvest/internal/model"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type staticReaper struct {
	last *model.Report
}

func (r staticReaper) State() reaper.State        { return reaper.Waiting }
func (r staticReaper) LastReport() *model.Report { return r.last }

type staticFrames uint64

func (f staticFrames) Frames() uint64 { return uint64(f) }

func newTestServer(t *testing.T) (*Server, *dedup.Table) {
	t.Helper()
	table := dedup.New(time.Hour)
	for i := 0; i < 3; i++ {
		table.Observe(&model.Segment{DstIP: net.IPv4(10, 0, 0, 2), DstPort: 443, Seq: 1, Ack: 2, PayloadSize: 10, Flags: model.FlagACK})
	}
	table.Observe(&model.Segment{DstIP: net.IPv4(10, 0, 0, 3), DstPort: 80, Seq: 5, Ack: 6})

	deps := Deps{
		Table:     table,
		Reaper:    staticReaper{last: &model.Report{SweptAt: time.Unix(100, 0).UTC(), Evicted: 4, Live: 2}},
		Ingest:    staticFrames(42),
		ProbeID:   "probe-1",
		Interface: "eth0",
	}
	return NewServer("127.0.0.1:0", deps, zerolog.Nop()), table
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRecordsHandler(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/v1/records")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var all []RecordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = get(t, h, "/api/v1/records?min_repeats=2")
	var dups []RecordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dups))
	require.Len(t, dups, 1)
	assert.Equal(t, "10.0.0.2,443,1,2,10", dups[0].Fingerprint)
	assert.Equal(t, uint64(2), dups[0].RepeatCount)
	assert.Equal(t, "ACK", dups[0].FlagNames)

	rec = get(t, h, "/api/v1/records?min_repeats=lots")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats StatsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "probe-1", stats.ProbeID)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, uint64(42), stats.Frames)
	assert.Equal(t, "waiting", stats.ReaperState)
	require.NotNil(t, stats.LastSweep)
	assert.Equal(t, 4, stats.LastSweep.Evicted)
}

func TestMetricsAndHealthz(t *testing.T) {
	s, table := newTestServer(t)
	table.Sweep(time.Now())

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dupharvest_sweeps_total")

	rec = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	url := "http://" + lis.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "ok"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestHealthServer(t *testing.T) {
	h := NewHealthServer("127.0.0.1:0", zerolog.Nop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	h.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	cancel()
	assert.NoError(t, <-done)
}
