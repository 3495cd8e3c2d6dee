// Package metrics 把流水线统计导出为 Prometheus 指标。
// 统计快照在汇报周期内采集，热路径不直接触碰 collector。
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"okx-signal-pipeline/internal/core/pipeline"
	"okx-signal-pipeline/internal/output"
)

const namespace = "okx_signal"

// Metrics 指标集合
type Metrics struct {
	Events           *prometheus.CounterVec
	RingDropped      *prometheus.CounterVec
	SeqGaps          *prometheus.CounterVec
	LatencyAnomalies *prometheus.CounterVec
	Signals          *prometheus.CounterVec
	ModelUpdates     *prometheus.CounterVec
	QueueDropped     *prometheus.CounterVec
	Dispatched       *prometheus.CounterVec
	StageLatency     *prometheus.GaugeVec
	HitRate          *prometheus.GaugeVec
	LogLoss          *prometheus.GaugeVec
	LearningRate     *prometheus.GaugeVec

	// mu 保护 prev 与 dispatch；多个流水线 goroutine 会并发汇报
	mu       sync.Mutex
	prev     map[string]*counters
	dispatch output.Stats
}

// counters 已计入的累计值，用于把累计量转换为计数器增量
// 快照可能乱序到达，每个字段只取见过的最大值。
type counters struct {
	trades       uint64
	books        uint64
	ringDropped  uint64
	seqGaps      uint64
	passed       uint64
	rejected     uint64
	updates      uint64
	queueDropped uint64
	anomalies    uint64
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Market events processed by the pipeline"},
			[]string{"instrument", "kind"},
		),
		RingDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ring_dropped_total", Help: "Events overwritten in the ring buffer before consumption"},
			[]string{"instrument"},
		),
		SeqGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "seq_gaps_total", Help: "Sequence numbers missing on consumption"},
			[]string{"instrument"},
		),
		LatencyAnomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "latency_anomalies_total", Help: "Stage samples with a negative duration"},
			[]string{"instrument"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Signals by filter result"},
			[]string{"instrument", "result"},
		),
		ModelUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "model_updates_total", Help: "Online training steps"},
			[]string{"instrument"},
		),
		QueueDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_queue_dropped_total", Help: "Events dropped because the per-instrument feed queue was full"},
			[]string{"instrument"},
		),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_total", Help: "Dispatcher outcomes"},
			[]string{"outcome"},
		),
		StageLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "stage_latency_microseconds", Help: "Rolling stage latency quantiles"},
			[]string{"instrument", "stage", "quantile"},
		),
		HitRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "calibration_hit_rate", Help: "Rolling hit rate of predictions at training time"},
			[]string{"instrument"},
		),
		LogLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "calibration_log_loss", Help: "Rolling mean log-loss at training time"},
			[]string{"instrument"},
		),
		LearningRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "learning_rate", Help: "Current learning rate of the online model"},
			[]string{"instrument"},
		),
		prev: make(map[string]*counters),
	}
	reg.MustRegister(
		m.Events, m.RingDropped, m.SeqGaps, m.LatencyAnomalies, m.Signals,
		m.ModelUpdates, m.QueueDropped, m.Dispatched,
		m.StageLatency, m.HitRate, m.LogLoss, m.LearningRate,
	)
	return m
}

// ObservePipeline 用一次流水线快照更新指标
func (m *Metrics) ObservePipeline(st pipeline.Stats) {
	inst := st.Instrument
	var anomalies uint64
	if st.LatencyAnomalies > 0 {
		anomalies = uint64(st.LatencyAnomalies)
	}

	m.mu.Lock()
	c := m.countersFor(inst)
	addDelta(m.Events.WithLabelValues(inst, "trade"), &c.trades, st.Trades)
	addDelta(m.Events.WithLabelValues(inst, "book"), &c.books, st.Books)
	addDelta(m.RingDropped.WithLabelValues(inst), &c.ringDropped, st.RingDropped)
	addDelta(m.SeqGaps.WithLabelValues(inst), &c.seqGaps, st.SeqGaps)
	addDelta(m.LatencyAnomalies.WithLabelValues(inst), &c.anomalies, anomalies)
	addDelta(m.Signals.WithLabelValues(inst, "passed"), &c.passed, st.Passed)
	addDelta(m.Signals.WithLabelValues(inst, "rejected"), &c.rejected, st.Rejected)
	addDelta(m.ModelUpdates.WithLabelValues(inst), &c.updates, st.ModelUpdates)
	m.mu.Unlock()

	for _, s := range st.Latency {
		if s.Window == 0 {
			continue
		}
		m.StageLatency.WithLabelValues(inst, s.Stage, "0.5").Set(float64(s.P50Us))
		m.StageLatency.WithLabelValues(inst, s.Stage, "0.95").Set(float64(s.P95Us))
		m.StageLatency.WithLabelValues(inst, s.Stage, "0.99").Set(float64(s.P99Us))
	}
	if st.Calibration.Count > 0 {
		m.HitRate.WithLabelValues(inst).Set(st.Calibration.HitRate)
		m.LogLoss.WithLabelValues(inst).Set(st.Calibration.LogLoss)
	}
	m.LearningRate.WithLabelValues(inst).Set(st.LearningRate)
}

// ObserveQueueDropped 更新合约行情队列的累计丢弃数
func (m *Metrics) ObserveQueueDropped(instrument string, total uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addDelta(m.QueueDropped.WithLabelValues(instrument), &m.countersFor(instrument).queueDropped, total)
}

// ObserveDispatch 更新分发器统计
// 各流水线各自汇报同一个分发器的快照，较旧的快照不产生增量。
func (m *Metrics) ObserveDispatch(st output.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addDelta(m.Dispatched.WithLabelValues("forwarded"), &m.dispatch.Forwarded, st.Forwarded)
	addDelta(m.Dispatched.WithLabelValues("rejected"), &m.dispatch.Rejected, st.Rejected)
	addDelta(m.Dispatched.WithLabelValues("rejected_emitted"), &m.dispatch.RejectedEmitted, st.RejectedEmitted)
	addDelta(m.Dispatched.WithLabelValues("sink_dropped"), &m.dispatch.SinkDrops, st.SinkDrops)
	addDelta(m.Dispatched.WithLabelValues("sink_error"), &m.dispatch.SinkErrors, st.SinkErrors)
}

// countersFor 调用方须持有 mu
func (m *Metrics) countersFor(instrument string) *counters {
	c, ok := m.prev[instrument]
	if !ok {
		c = &counters{}
		m.prev[instrument] = c
	}
	return c
}

// addDelta 计入 cur 超过 *seen 的部分，并把 *seen 推进到 cur
func addDelta(c prometheus.Counter, seen *uint64, cur uint64) {
	if cur > *seen {
		c.Add(float64(cur - *seen))
		*seen = cur
	}
}

// Serve 在 addr 上暴露 /metrics，立即返回
func Serve(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
