package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_server_bytes_total",
			Help: "Payload bytes sent to and received from clients.",
		},
		[]string{"direction"},
	)
	HistoryRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speedtest_server_history_records_total",
			Help: "Number of results stored through /history.",
		},
	)
)
