package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(paidCacheLookupsTotal)
}

var paidCacheLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "paid_cache_lookups_total",
		Help: "Paid-through cache lookups by result (hit/miss).",
	},
	[]string{"result"},
)

func IncPaidCacheHit()  { paidCacheLookupsTotal.WithLabelValues("hit").Inc() }
func IncPaidCacheMiss() { paidCacheLookupsTotal.WithLabelValues("miss").Inc() }
