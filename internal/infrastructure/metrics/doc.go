// Package metrics exposes PlaySEM Core metrics in Prometheus format.
//
// Counters and histograms are fed by the activity log (as an
// activity.Sink), by ingress adapters and by the HTTP middleware.
// Timeline, pool and device gauges are read from the engine at scrape
// time, so they are never stale.
//
// Usage:
//
//	m := metrics.New()
//	m.ObserveEngine(eng.Stats)
//	activityLog.AddSink(m)
//	router.Use(m.Middleware)
//	router.Handle("/metrics", m.Handler())
package metrics
