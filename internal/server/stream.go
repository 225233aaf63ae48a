package server

import (
	"context"
	"log/slog"
	"time"
)

// sendQueue is the number of snapshots buffered for a slow client.
const sendQueue = 4

// StreamSnapshots writes snapshot() to conn immediately and then every interval,
// until the client disconnects or ctx ends. It closes conn before returning.
func StreamSnapshots(ctx context.Context, conn WebSocketConn, interval time.Duration, snapshot func() any) {
	send := make(chan any, sendQueue)
	done := make(chan struct{})

	go runWriter(conn, send)
	go runReader(conn, done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(send)

	trySend := func() bool {
		select {
		case send <- snapshot():
			return true
		case <-done:
			return false
		case <-ctx.Done():
			return false
		}
	}

	if !trySend() {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !trySend() {
				return
			}
		}
	}
}

// runWriter is the only goroutine writing to conn.
func runWriter(conn WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("WebSocket write failed", "error", err)
			return
		}
	}
}

// runReader drains client messages so that a disconnect is noticed.
func runReader(conn WebSocketConn, done chan<- struct{}) {
	defer close(done)
	for {
		var discard any
		if err := conn.ReadJSON(&discard); err != nil {
			return
		}
	}
}
