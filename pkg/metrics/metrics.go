// Package metrics exposes pipeline and transfer counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of a recorder. A nil *Collector
// is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes       *prometheus.CounterVec
	Samples     prometheus.Counter
	Messages    *prometheus.CounterVec
	ModeChanges *prometheus.CounterVec
	Mode        prometheus.Gauge
	Transfers   *prometheus.CounterVec
	Unsent      prometheus.Gauge
	History     prometheus.Gauge
	Recording   prometheus.Gauge
}

// New registers the metrics against reg, defaulting to the global registry
// when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Fixes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glidetrack_fixes_total",
		Help: "Raw fixes seen, labeled by validation status.",
	}, []string{"status"}), "glidetrack_fixes_total"); err != nil {
		return nil, err
	}
	if c.Samples, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glidetrack_track_samples_total",
		Help: "Resampled fixes appended to tracks.",
	}), "glidetrack_track_samples_total"); err != nil {
		return nil, err
	}
	if c.Messages, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glidetrack_track_messages_total",
		Help: "Messages appended to tracks, labeled by code.",
	}, []string{"code"}), "glidetrack_track_messages_total"); err != nil {
		return nil, err
	}
	if c.ModeChanges, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glidetrack_mode_changes_total",
		Help: "Motion mode transitions, labeled by the entered mode.",
	}, []string{"mode"}), "glidetrack_mode_changes_total"); err != nil {
		return nil, err
	}
	if c.Mode, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glidetrack_mode",
		Help: "Current motion mode (0 dormant, 1 stationary, 2 moving).",
	}), "glidetrack_mode"); err != nil {
		return nil, err
	}
	if c.Transfers, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glidetrack_transfers_total",
		Help: "Track transfer attempts, labeled by result.",
	}, []string{"result"}), "glidetrack_transfers_total"); err != nil {
		return nil, err
	}
	if c.Unsent, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glidetrack_unsent_entries",
		Help: "Entries of the current track not yet acknowledged by the endpoint.",
	}), "glidetrack_unsent_entries"); err != nil {
		return nil, err
	}
	if c.History, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glidetrack_history_tracks",
		Help: "Tracks held in memory until fully sent.",
	}), "glidetrack_history_tracks"); err != nil {
		return nil, err
	}
	if c.Recording, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glidetrack_recording",
		Help: "1 while a recording session is active.",
	}), "glidetrack_recording"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveFix(status string) {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveSample() {
	if c == nil {
		return
	}
	c.Samples.Inc()
}

func (c *Collector) ObserveMessage(code string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(code).Inc()
}

// ObserveMode records a transition into mode.
func (c *Collector) ObserveMode(mode int, name string) {
	if c == nil {
		return
	}
	c.ModeChanges.WithLabelValues(name).Inc()
	c.Mode.Set(float64(mode))
}

func (c *Collector) ObserveTransfer(result string) {
	if c == nil {
		return
	}
	c.Transfers.WithLabelValues(result).Inc()
}

// SetBacklog updates the queue gauges.
func (c *Collector) SetBacklog(recording bool, unsent, history int) {
	if c == nil {
		return
	}
	if recording {
		c.Recording.Set(1)
	} else {
		c.Recording.Set(0)
	}
	c.Unsent.Set(float64(unsent))
	c.History.Set(float64(history))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
