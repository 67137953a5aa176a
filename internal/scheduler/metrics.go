package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var roundsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "scheduler",
		Name:      "rounds_total",
		Help:      "Completed matching rounds.",
	},
)

var roundDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "matchd",
		Subsystem: "scheduler",
		Name:      "round_duration_seconds",
		Help:      "Wall time of one full matching round.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	},
)

var marketRoundDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "matchd",
		Subsystem: "scheduler",
		Name:      "market_round_duration_seconds",
		Help:      "Wall time of one market's matching round.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	},
	[]string{"symbol"},
)

var tradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "matcher",
		Name:      "trades_total",
		Help:      "Trades executed.",
	},
	[]string{"symbol"},
)

var ordersCanceledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "matcher",
		Name:      "orders_canceled_total",
		Help:      "Orders canceled during matching.",
	},
	[]string{"symbol"},
)

var walletRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "matcher",
		Name:      "wallet_rejections_total",
		Help:      "Matches rolled back because a wallet movement was refused.",
	},
	[]string{"symbol"},
)

var priceAnomaliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "matcher",
		Name:      "price_anomalies_total",
		Help:      "Rounds abandoned on non-positive price or amount.",
	},
	[]string{"symbol"},
)

var marketRoundErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "matchd",
		Subsystem: "scheduler",
		Name:      "market_round_errors_total",
		Help:      "Market rounds that ended with an error or panic.",
	},
	[]string{"symbol"},
)

var activeMarkets = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "matchd",
		Subsystem: "scheduler",
		Name:      "active_markets",
		Help:      "Markets matched in the most recent round.",
	},
)
