package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/devices"
)

const feedWriteTimeout = 5 * time.Second

// DeviceFeedMessage is one frame on /ws/devices.
type DeviceFeedMessage struct {
	Devices []devices.Device `json:"devices"`
}

// handleDeviceFeed streams the device list: the current snapshot first,
// then every change until the client goes away.
func (s *WebServer) handleDeviceFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	updates, unsubscribe := s.app.SubscribeDevices()
	defer unsubscribe()

	// The feed is one-way; CloseRead drains control frames and cancels ctx
	// when the client disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := s.sendDevices(ctx, conn, s.app.Devices()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := s.sendDevices(ctx, conn, snap); err != nil {
				return
			}
		}
	}
}

func (s *WebServer) sendDevices(ctx context.Context, conn *websocket.Conn, list []devices.Device) error {
	if list == nil {
		list = []devices.Device{}
	}
	wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	err := wsjson.Write(wctx, conn, DeviceFeedMessage{Devices: list})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("device feed write", zap.Error(err))
	}
	return err
}
