package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StockMesh.
type Metrics struct {
	// --- Order books ---
	OrdersPlaced      *prometheus.CounterVec
	OrdersRejected    *prometheus.CounterVec
	MatchesExecuted   *prometheus.CounterVec
	MatchedVolume     *prometheus.CounterVec
	OpenAskOrders     *prometheus.GaugeVec
	OpenBidOrders     *prometheus.GaugeVec
	PlaceDuration     *prometheus.HistogramVec

	// --- Persistence ---
	RecordsPersisted  *prometheus.CounterVec
	PersistErrors     *prometheus.CounterVec
	PersistDuration   prometheus.Histogram
	SnapshotsSaved    *prometheus.CounterVec
	RecoveryReplayed  *prometheus.CounterVec
	RecoveryDuration  *prometheus.GaugeVec

	// --- Aggregation ---
	MatchesConsumed   *prometheus.CounterVec
	ForeignMatches    *prometheus.CounterVec
	UpdatesPublished  *prometheus.CounterVec
	QueryOffset       *prometheus.GaugeVec
	StreamRestarts    *prometheus.CounterVec
	AveragePrice      *prometheus.GaugeVec
	AverageVolume     *prometheus.GaugeVec

	// --- Price views ---
	ViewAcquisitions  *prometheus.CounterVec
	ViewReacquires    *prometheus.CounterVec
	ViewUpdates       *prometheus.CounterVec
	ViewHistorySize   *prometheus.GaugeVec
	ViewPruned        *prometheus.CounterVec

	// --- Transport ---
	EventsPublished   *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	SubscribeRetries  *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		// Order books
		OrdersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_orders_placed_total",
			Help: "Orders accepted by a book worker",
		}, []string{"symbol", "side"}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_orders_rejected_total",
			Help: "Orders rejected (duplicate id, unknown symbol)",
		}, []string{"symbol", "reason"}),

		MatchesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_matches_executed_total",
			Help: "Match events produced by the matching engine",
		}, []string{"symbol"}),

		MatchedVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_matched_volume_total",
			Help: "Units of stock crossed in matches",
		}, []string{"symbol"}),

		OpenAskOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_open_ask_orders",
			Help: "Resting ask orders in the book",
		}, []string{"symbol"}),

		OpenBidOrders: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_open_bid_orders",
			Help: "Resting bid orders in the book",
		}, []string{"symbol"}),

		PlaceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockmesh_place_duration_seconds",
			Help:    "Time from command receipt to confirmation",
			Buckets: latencyBuckets,
		}, []string{"symbol", "side"}),

		// Persistence
		RecordsPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_records_persisted_total",
			Help: "Records appended to the journal",
		}, []string{"persistence_id"}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_persist_errors_total",
			Help: "Journal and snapshot store failures",
		}, []string{"operation"}),

		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockmesh_persist_duration_seconds",
			Help:    "Journal append duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		SnapshotsSaved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_snapshots_saved_total",
			Help: "Snapshots stored",
		}, []string{"persistence_id"}),

		RecoveryReplayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_recovery_replayed_total",
			Help: "Records replayed during worker recovery",
		}, []string{"persistence_id"}),

		RecoveryDuration: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_recovery_duration_seconds",
			Help: "Last recovery time per worker",
		}, []string{"persistence_id"}),

		// Aggregation
		MatchesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_matches_consumed_total",
			Help: "Match events consumed from the tagged stream",
		}, []string{"symbol"}),

		ForeignMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_foreign_matches_total",
			Help: "Matches rejected for carrying the wrong symbol",
		}, []string{"symbol"}),

		UpdatesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_updates_published_total",
			Help: "Price and volume updates published",
		}, []string{"symbol", "kind"}),

		QueryOffset: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_query_offset",
			Help: "Last consumed tagged stream offset",
		}, []string{"symbol"}),

		StreamRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_stream_restarts_total",
			Help: "Aggregator restarts after unexpected stream end",
		}, []string{"symbol"}),

		AveragePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_average_price",
			Help: "Current EWMA price per symbol",
		}, []string{"symbol"}),

		AverageVolume: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_average_volume",
			Help: "Current EWMA volume per symbol",
		}, []string{"symbol"}),

		// Price views
		ViewAcquisitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_view_acquisitions_total",
			Help: "Successful initial state acquisitions",
		}, []string{"symbol"}),

		ViewReacquires: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_view_reacquires_total",
			Help: "Reacquisitions after source termination",
		}, []string{"symbol"}),

		ViewUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_view_updates_total",
			Help: "Live price updates applied to views",
		}, []string{"symbol"}),

		ViewHistorySize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockmesh_view_history_size",
			Help: "Price updates held per view",
		}, []string{"symbol"}),

		ViewPruned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_view_pruned_total",
			Help: "Price updates dropped by the prune tick",
		}, []string{"symbol"}),

		// Transport
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_events_published_total",
			Help: "Trade events published to their topics",
		}, []string{"symbol", "event_type"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_publish_errors_total",
			Help: "Publish failures",
		}, []string{"symbol"}),

		SubscribeRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_subscribe_retries_total",
			Help: "Subscription attempts that had to be retried",
		}, []string{"topic"}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmesh_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockmesh_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
