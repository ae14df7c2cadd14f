package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(mediaBytesWritten, mediaObjectsPurged) }

var mediaBytesWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bp_media_bytes_written_total",
		Help: "Bytes persisted to the media store by object kind.",
	},
	[]string{"kind"}, // 'original', 'preview', 'output'
)

var mediaObjectsPurged = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bp_media_objects_purged_total",
		Help: "Media objects removed by the retention reaper.",
	},
)

func AddMediaBytes(kind string, n int) {
	mediaBytesWritten.WithLabelValues(norm(kind)).Add(float64(n))
}

func IncMediaPurged(n int) {
	mediaObjectsPurged.Add(float64(n))
}
