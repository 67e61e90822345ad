package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket subscribers",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages appended",
	})
	FilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_files_total",
		Help: "Total number of attachments stored",
	})
	FileBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_file_bytes_total",
		Help: "Total bytes of attachments stored",
	})
	MembershipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_memberships_created_total",
		Help: "Total number of room memberships created",
	})
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_broadcast_dropped_total",
		Help: "Messages not fanned out because a room queue was full",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesTotal, FilesTotal, FileBytesTotal,
		MembershipsTotal, BroadcastDropped, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
