package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/engine"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

var (
	descPending = prometheus.NewDesc(namespace+"_timeline_pending",
		"Effects waiting on the timeline.", nil, nil)
	descQueued = prometheus.NewDesc(namespace+"_timeline_queued",
		"Effects in the ingress queue not yet on the timeline.", nil, nil)
	descPlayhead = prometheus.NewDesc(namespace+"_timeline_playhead_seconds",
		"Current playhead position.", nil, nil)
	descState = prometheus.NewDesc(namespace+"_timeline_state",
		"1 for the current timeline state.", []string{"state"}, nil)
	descScheduled = prometheus.NewDesc(namespace+"_timeline_scheduled_total",
		"Effects accepted onto the timeline.", nil, nil)
	descPoolQueued = prometheus.NewDesc(namespace+"_dispatch_queue_length",
		"Released effects waiting for a worker.", nil, nil)
	descInFlight = prometheus.NewDesc(namespace+"_dispatch_in_flight",
		"Effects being dispatched.", nil, nil)
	descDevices = prometheus.NewDesc(namespace+"_devices",
		"Registered devices by connection state.", []string{"state"}, nil)
)

var allStates = []device.ConnectionState{
	device.StateDisconnected,
	device.StateConnecting,
	device.StateConnected,
	device.StateError,
	device.StateReconnecting,
}

// engineCollector turns an engine.Stats snapshot into gauges.
type engineCollector struct {
	stats func() engine.Stats
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descPending, descQueued, descPlayhead, descState, descScheduled, descPoolQueued, descInFlight, descDevices,
	} {
		ch <- d
	}
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	tl := s.Timeline

	ch <- prometheus.MustNewConstMetric(descPending, prometheus.GaugeValue, float64(tl.Pending))
	ch <- prometheus.MustNewConstMetric(descQueued, prometheus.GaugeValue, float64(tl.Queued))
	ch <- prometheus.MustNewConstMetric(descPlayhead, prometheus.GaugeValue, tl.Playhead.Seconds())
	for _, st := range []timeline.State{timeline.StateStopped, timeline.StatePlaying, timeline.StatePaused} {
		v := 0.0
		if tl.State == st {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(descState, prometheus.GaugeValue, v, string(st))
	}
	ch <- prometheus.MustNewConstMetric(descScheduled, prometheus.CounterValue, float64(s.Scheduled))
	ch <- prometheus.MustNewConstMetric(descPoolQueued, prometheus.GaugeValue, float64(s.Pool.Queued))
	ch <- prometheus.MustNewConstMetric(descInFlight, prometheus.GaugeValue, float64(s.Pool.InFlight))

	byState := make(map[device.ConnectionState]int, len(allStates))
	for _, h := range s.PerDeviceHealth {
		byState[h.State]++
	}
	for _, st := range allStates {
		ch <- prometheus.MustNewConstMetric(descDevices, prometheus.GaugeValue, float64(byState[st]), string(st))
	}
}
