package durable

import (
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/voicebridge/voicebridge/pkg/logging"
)

// Prometheus counters backing the /metrics exporter. These are process-wide
// like any promauto collector and, unlike the Redis mirror, are always live
// regardless of whether Redis is configured.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_requests_total",
		Help: "Total conversation requests handled, by gateway id.",
	}, []string{"gateway_id"})
	fallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_fallback_total",
		Help: "Conversation requests that used the fallback chain, by gateway id.",
	}, []string{"gateway_id"})
	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_request_errors_total",
		Help: "Conversation requests that ended in error, by gateway id.",
	}, []string{"gateway_id"})
	ttsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_tts_errors_total",
		Help: "TTS synthesis failures, by reason code.",
	}, []string{"reason"})
)

// LiveCounters mirrors the durable metrics with cheap, ephemeral Redis
// counters an admin dashboard can poll without touching SQLite, and
// simultaneously feeds the Prometheus counters above. Redis failures here
// are logged and dropped, exactly like the SQLite writer: nothing here is
// load-bearing for correctness.
type LiveCounters struct {
	client *redis.Client
	logger *logging.Logger
}

// NewLiveCounters wraps an already-constructed redis client. A nil client
// turns off only the Redis mirror (Snapshot then always returns 0); the
// Prometheus counters are still updated, so callers can wire this
// unconditionally when Redis isn't configured.
func NewLiveCounters(client *redis.Client, logger *logging.Logger) *LiveCounters {
	return &LiveCounters{client: client, logger: logger}
}

// IncrRequests bumps the total-request and, conditionally, fallback-used
// and error counters for gatewayID.
func (c *LiveCounters) IncrRequests(gatewayID string, fallbackUsed, errored bool) {
	requestsTotal.WithLabelValues(gatewayID).Inc()
	if fallbackUsed {
		fallbackTotal.WithLabelValues(gatewayID).Inc()
	}
	if errored {
		requestErrorsTotal.WithLabelValues(gatewayID).Inc()
	}

	if c.client == nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Incr("voicebridge:metrics:" + gatewayID + ":requests")
	if fallbackUsed {
		pipe.Incr("voicebridge:metrics:" + gatewayID + ":fallback")
	}
	if errored {
		pipe.Incr("voicebridge:metrics:" + gatewayID + ":errors")
	}
	if _, err := pipe.Exec(); err != nil && c.logger != nil {
		c.logger.Warnf("durable: redis counter update failed, dropping: %v", err)
	}
}

// IncrTTSErrors bumps the tts-error counter for one reason code.
func (c *LiveCounters) IncrTTSErrors(reasonCode string) {
	ttsErrorsTotal.WithLabelValues(reasonCode).Inc()

	if c.client == nil {
		return
	}
	if err := c.client.Incr("voicebridge:metrics:tts_errors:" + reasonCode).Err(); err != nil && c.logger != nil {
		c.logger.Warnf("durable: redis tts-error counter failed, dropping: %v", err)
	}
}

// Snapshot returns the current value of one counter key, or 0 if absent or
// on error.
func (c *LiveCounters) Snapshot(key string) int64 {
	if c.client == nil {
		return 0
	}
	v, err := c.client.Get("voicebridge:metrics:" + key).Int64()
	if err != nil {
		return 0
	}
	return v
}
