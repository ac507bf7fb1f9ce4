package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docsync", Name: "relay_connections_total", Help: "Number of authenticated websocket connections."},
	)
	MessagesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docsync", Name: "relay_messages_total", Help: "Number of protocol messages forwarded to the sync engine by type."},
		[]string{"type"},
	)
	PermissionDenied = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docsync", Name: "relay_permission_denied_total", Help: "Number of messages dropped because the peer lacks read access."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docsync", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter store."},
		[]string{"store"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docsync", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter store."},
		[]string{"store"},
	)
	BlobUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docsync", Name: "blob_uploads_total", Help: "Number of completed blob uploads by result."},
		[]string{"result"},
	)
	BlobsCollected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docsync", Name: "blob_gc_deleted_total", Help: "Number of blobs deleted by the garbage-collection sweep."},
	)
	EphemeralDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "docsync", Name: "ephemeral_documents", Help: "Number of live ephemeral documents."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(ConnectionsOpened)
	reg.MustRegister(MessagesRelayed)
	reg.MustRegister(PermissionDenied)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(BlobUploads)
	reg.MustRegister(BlobsCollected)
	reg.MustRegister(EphemeralDocuments)
}
