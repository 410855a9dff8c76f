package x402

import (
	"net/http"
	"time"

	"github.com/Djtrixuk/moltydex-x402-example/logger"
	"github.com/Djtrixuk/moltydex-x402-example/metrics"
)

type Option func(*Handler)

func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(h *Handler) {
		h.metrics = r
	}
}

// WithTimeout bounds each network-bound step of the orchestration.
func WithTimeout(t time.Duration) Option {
	return func(h *Handler) {
		h.timeout = t
	}
}

// WithHTTPClient sets the client used to replay the original request.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = c
	}
}
