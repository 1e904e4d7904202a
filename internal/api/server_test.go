package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/queue/memory"
)

func failedReviewLane(t *testing.T) (*memory.Lane, crawler.Job) {
	t.Helper()
	ctx := context.Background()
	lane := memory.NewLane(crawler.ReviewLane, 8, nil, nil)
	_, err := lane.Enqueue(ctx, crawler.NewReviewJob(crawler.ReviewTask{FKey: "1_2"}, crawler.JobOptions{Timeout: time.Minute}))
	require.NoError(t, err)
	job, err := lane.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, lane.Fail(ctx, job, errors.New("mongo unavailable")))
	return lane, job
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, Config{}, zap.NewNop())
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, Config{}, nil)
	rec := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestListLanes(t *testing.T) {
	t.Parallel()

	fetch := memory.NewLane(crawler.FetchLane, 8, nil, nil)
	_, err := fetch.Enqueue(context.Background(), crawler.NewFetchJob(crawler.FetchTask{URL: "http://a", Keyword: "ssd"}, crawler.JobOptions{}))
	require.NoError(t, err)
	review, _ := failedReviewLane(t)

	s := NewServer([]crawler.Lane{fetch, review}, Config{}, zap.NewNop())
	rec := serve(s, http.MethodGet, "/v1/lanes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Lanes []crawler.LaneStats `json:"lanes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []crawler.LaneStats{
		{Lane: crawler.FetchLane, Pending: 1},
		{Lane: crawler.ReviewLane, Failed: 1},
	}, body.Lanes)
}

func TestListFailed(t *testing.T) {
	t.Parallel()

	review, job := failedReviewLane(t)
	s := NewServer([]crawler.Lane{review}, Config{}, zap.NewNop())

	rec := serve(s, http.MethodGet, "/v1/lanes/review/failed?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []crawler.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	require.Equal(t, job.ID, body.Jobs[0].ID)
	require.Equal(t, "mongo unavailable", body.Jobs[0].Error)

	rec = serve(s, http.MethodGet, "/v1/lanes/review/failed?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodGet, "/v1/lanes/archive/failed", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequeue(t *testing.T) {
	t.Parallel()

	review, job := failedReviewLane(t)
	s := NewServer([]crawler.Lane{review}, Config{}, zap.NewNop())

	rec := serve(s, http.MethodPost, "/v1/lanes/review/failed/"+job.ID+"/requeue", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"status":"queued"`))

	stats, err := review.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Zero(t, stats.Failed)

	rec = serve(s, http.MethodPost, "/v1/lanes/review/failed/"+job.ID+"/requeue", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	review, _ := failedReviewLane(t)
	s := NewServer([]crawler.Lane{review}, Config{APIKey: "secret"}, zap.NewNop())

	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/lanes", nil).Code)
	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/lanes", http.Header{"X-Api-Key": {"secreT"}}).Code)
	require.Equal(t, http.StatusForbidden, serve(s, http.MethodGet, "/v1/lanes?api_key=secret2", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/lanes", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/v1/lanes?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz", nil).Code, "probes stay open")
}

type brokenLane struct{ crawler.Lane }

func (brokenLane) Name() crawler.LaneName { return crawler.FetchLane }

func (brokenLane) Stats(context.Context) (crawler.LaneStats, error) {
	return crawler.LaneStats{}, errors.New("redis down")
}

func TestListLanesStatsError(t *testing.T) {
	t.Parallel()

	s := NewServer([]crawler.Lane{brokenLane{}}, Config{}, zap.NewNop())
	rec := serve(s, http.MethodGet, "/v1/lanes", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s := NewServer(nil, Config{}, zap.New(core))
	rec := serve(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	reqID := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, reqID)
	require.Equal(t, reqID, entries[0].ContextMap()["request_id"])
}

func TestWriteJSONLogsThroughServerLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	s := NewServer(nil, Config{}, zap.New(core))
	rec := httptest.NewRecorder()
	s.writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	require.Equal(t, 1, logs.FilterMessage("write JSON failed").Len())
}
