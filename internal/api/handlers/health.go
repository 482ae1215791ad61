package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger checks one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TCPPinger dials an address; used for Redis, which the API only reaches
// through the asynq client.
type TCPPinger string

func (a TCPPinger) Ping(ctx context.Context) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", string(a))
	if err != nil {
		return err
	}
	return conn.Close()
}

type depStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Deps    map[string]depStatus `json:"deps"`
}

// Health reports the state of every dependency; any failure yields 503.
func Health(version string, deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		out := make(map[string]depStatus, len(deps))
		overall := "ok"
		for name, p := range deps {
			if err := p.Ping(pingCtx); err != nil {
				out[name] = depStatus{Status: "error", Error: err.Error()}
				overall = "degraded"
				continue
			}
			out[name] = depStatus{Status: "ok"}
		}

		status := http.StatusOK
		if overall != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, healthResponse{Status: overall, Version: version, Deps: out})
	}
}
