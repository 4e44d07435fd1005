package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"

	"github.com/renderdeck/api/internal/logtail"
)

// StreamLogsWS pushes the job's log lines over a websocket connection. The
// stream waits for the log file to appear, so a client may subscribe right
// after starting the render. It ends when the client disconnects.
func (h *JobHandler) StreamLogsWS(conn *websocket.Conn) {
	defer conn.Close()
	jobID := conn.Params("jobId")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logPath, err := h.service.LogPath(ctx, jobID)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "job not found")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		return
	}

	// Read loop exists only to notice the peer hanging up.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	follower := logtail.New(logPath)
	follower.WaitForFile = true
	_ = follower.Follow(ctx, func(line string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	})
}
