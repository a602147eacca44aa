package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "bn_grid_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	entriesPlaced := newCounter("entries_placed_total", "Total number of entry limit orders placed.")
	entriesFailed := newCounter("entries_failed_total", "Total number of entry order placement failures.")
	stopsPlaced := newCounter("stops_placed_total", "Total number of protective stop orders placed.")
	stopsFailed := newCounter("stops_failed_total", "Total number of protective order placement failures.")
	fillsDetected := newCounter("fills_detected_total", "Total number of entry fills detected.")
	stopsArmed := newCounter("stops_armed_total", "Total number of deferred stop-losses armed.")
	stopsFired := newCounter("stops_fired_total", "Total number of protective stops observed filled.")
	levelsRestored := newCounter("levels_restored_total", "Total number of grid levels restored after a stop fired.")
	tickErrors := newCounter("tick_errors_total", "Total number of reconciliation ticks that hit an error.")

	m := &Metrics{
		EntriesPlaced:  promCounter{entriesPlaced},
		EntriesFailed:  promCounter{entriesFailed},
		StopsPlaced:    promCounter{stopsPlaced},
		StopsFailed:    promCounter{stopsFailed},
		FillsDetected:  promCounter{fillsDetected},
		StopsArmed:     promCounter{stopsArmed},
		StopsFired:     promCounter{stopsFired},
		LevelsRestored: promCounter{levelsRestored},
		TickErrors:     promCounter{tickErrors},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
