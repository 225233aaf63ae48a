package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.2.0", "1.10.0", false},
		{"2.0.0", "dev", false},
		{"garbage", "1.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestVersionCheck(t *testing.T) {
	var gotETag atomic.Value
	gotETag.Store("")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etag := r.Header.Get("If-None-Match")
		gotETag.Store(etag)
		if etag == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name": "v1.4.0", "draft": false, "prerelease": false}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, ts.Client())

	require.NoError(t, vc.check(context.Background()))
	assert.Equal(t, "1.4.0", vc.Info().Latest)
	assert.False(t, vc.Info().UpdateAvail, "dev builds never report updates")

	require.NoError(t, vc.check(context.Background()))
	assert.Equal(t, `"abc"`, gotETag.Load())
	assert.Equal(t, "1.4.0", vc.Info().Latest)
}

func TestVersionCheckRetryable(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, ts.Client())
	err := vc.check(context.Background())
	assert.ErrorIs(t, err, errRetryable)

	status.Store(http.StatusUnauthorized)
	err = vc.check(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errRetryable)
}

func TestVersionCheckerStop(t *testing.T) {
	vc := NewVersionChecker()
	vc.Stop()
	assert.Equal(t, "dev", vc.Info().Current)
}

func TestVersionCheckerStopWithoutStart(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0", http.DefaultClient)

	stopped := make(chan struct{})
	go func() {
		vc.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a checker that was never started")
	}
}
