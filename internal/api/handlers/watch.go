package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/metrics"
	"github.com/godata/exporter/internal/models"
)

const watchWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth is checked before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WatchExport upgrades to a websocket and pushes the status read model on
// every change until the job reaches a terminal state.
func (h *Handlers) WatchExport(c echo.Context) error {
	job, err := h.loadJob(c)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already replied to the client.
		return nil
	}
	defer conn.Close()
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	// Reader: the client never sends anything meaningful; a read error
	// means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request().Context()
	log := h.log.With(zap.String("job_id", job.ID.String()))
	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()

	var last models.ExportStatusView
	sent := false
	for {
		view := job.View()
		if !sent || changed(last, view) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(view); err != nil {
				log.Debug("watch write failed", zap.Error(err))
				return nil
			}
			last, sent = view, true
		}
		if job.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)),
				time.Now().Add(watchWriteWait))
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-gone:
			return nil
		case <-ticker.C:
		}

		next, err := h.jobs.GetForUser(ctx, job.ID, job.UserID)
		if err != nil {
			log.Warn("watch reload failed", zap.Error(err))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "job unavailable"),
				time.Now().Add(watchWriteWait))
			return nil
		}
		job = next
	}
}

func changed(a, b models.ExportStatusView) bool {
	return a.Status != b.Status ||
		a.StatusStep != b.StatusStep ||
		a.ProcessedRecords != b.ProcessedRecords ||
		a.FailedRecords != b.FailedRecords ||
		a.TotalRecords != b.TotalRecords
}
