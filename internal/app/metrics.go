package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// serviceMetrics Prometheus-метрики навигационного сервиса
type serviceMetrics struct {
	scans          *prometheus.CounterVec
	pointsDropped  prometheus.Counter
	plans          *prometheus.CounterVec
	planDuration   prometheus.Histogram
	planExpanded   prometheus.Histogram
	surfaceQueries *prometheus.CounterVec
}

// newServiceMetrics регистрирует метрики в reg; nil: метрики не регистрируются,
// но счётчики остаются рабочими.
func newServiceMetrics(reg prometheus.Registerer, current func() float64, inflations func() float64) *serviceMetrics {
	m := &serviceMetrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxelnav",
			Name:      "scans_ingested_total",
			Help:      "Количество сканов по результату приёма (accepted/rejected/stale).",
		}, []string{"result"}),
		pointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxelnav",
			Name:      "scan_entries_dropped_total",
			Help:      "Точки, индексы и боксы, отброшенные при построении карты.",
		}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxelnav",
			Name:      "plans_total",
			Help:      "Запросы планирования по исходу (found/not_found/error).",
		}, []string{"outcome"}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxelnav",
			Name:      "plan_duration_seconds",
			Help:      "Длительность поиска пути.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}),
		planExpanded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxelnav",
			Name:      "plan_expanded_nodes",
			Help:      "Число раскрытых узлов A* за поиск.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 9),
		}),
		surfaceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxelnav",
			Name:      "surface_queries_total",
			Help:      "Запросы высоты поверхности (hit/miss).",
		}, []string{"result"}),
	}
	if reg == nil {
		return m
	}
	reg.MustRegister(m.scans, m.pointsDropped, m.plans, m.planDuration, m.planExpanded, m.surfaceQueries,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "voxelnav",
			Name:      "map_occupied_cells",
			Help:      "Занятые ячейки текущей карты.",
		}, current),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "voxelnav",
			Name:      "inflation_computed",
			Help:      "Количество раздуваний, вычисленных для текущей карты.",
		}, inflations),
	)
	return m
}
