package trader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoutCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_scout_cycles_total",
		Help: "Number of completed scout evaluations.",
	})
	jumpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_jumps_total",
		Help: "Number of successful bridge transitions.",
	})
	orderFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_order_failures_total",
		Help: "Number of failed order legs.",
	})
)
