package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

type staticStatus struct {
	status types.Status
}

func (s staticStatus) Status() types.Status { return s.status }

func testStatus() types.Status {
	return types.Status{
		Levels:   types.Levels{Current: -50, Avg: -48.5, Max: -40, Avg1m: -49, Avg1h: -51, PresenceMean: -47},
		Presence: types.Present,
		Publishes: map[types.Metric]types.PublishCounters{
			types.MetricAvg: {Published: 4, Last: "-48.5"},
		},
		Capture: types.CaptureStatus{Program: "sox", Device: "default", Running: true, Frames: 1200},
		Uptime:  "4m 0s",
	}
}

func TestHandleStatus(t *testing.T) {
	srv := NewServer(context.Background(), staticStatus{testStatus()}, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.InDelta(t, 1.0, got["presence"], 1e-9)
	assert.InDelta(t, -48.5, got["levels"].(map[string]any)["avg_db"], 1e-9)
	assert.Equal(t, "dev", got["version"].(map[string]any)["current"])
	assert.Equal(t, "-48.5", got["publishes"].(map[string]any)["avg_db"].(map[string]any)["last"])
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	srv := NewServer(context.Background(), staticStatus{testStatus()}, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(ctx, staticStatus{testStatus()}, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got types.Status
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, types.Present, got.Presence)
	assert.Equal(t, int64(1200), got.Capture.Frames)
	assert.Equal(t, "dev", got.Version.Current)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := NewServer(context.Background(), staticStatus{testStatus()}, nil)
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
