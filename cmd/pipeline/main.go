// Package main 是 OKX 行情信号流水线的入口点。
// 订阅 OKX 成交与盘口，按合约计算特征、在线逻辑回归概率与过滤后的交易信号，
// 信号以 JSONL 输出，运行指标通过 Prometheus 暴露。
//
// 重要：本系统只产生信号，不下单。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"okx-signal-pipeline/internal/config"
	"okx-signal-pipeline/internal/core/pipeline"
	"okx-signal-pipeline/internal/exchange/okx"
	"okx-signal-pipeline/internal/metadata"
	"okx-signal-pipeline/internal/metrics"
	"okx-signal-pipeline/internal/output"
	"okx-signal-pipeline/internal/output/jsonl"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).Named(cfg.App.Name)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	if cfg.Metadata.Enabled {
		fetcher := metadata.NewHTTPFetcher(cfg.Metadata.TimeoutMs)
		insts, err := metadata.CheckInstruments(ctx, &cfg.Metadata, cfg.OKX.Instruments, fetcher)
		if err != nil {
			logger.Error("合约元数据检查失败", zap.Error(err))
			os.Exit(1)
		}
		for _, inst := range insts {
			logger.Info("合约可用",
				zap.String("inst_id", inst.InstId),
				zap.String("tick_sz", inst.TickSz),
				zap.String("lot_sz", inst.LotSz))
		}
	}

	sinkWriter, err := newSignalsWriter(&cfg.Output)
	if err != nil {
		logger.Error("创建信号输出失败", zap.Error(err))
		os.Exit(1)
	}
	dispatcher := output.NewDispatcher(sinkWriter, cfg.Output.EmitRejected, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.ListenAddr, reg)
		defer srv.Close()
		logger.Info("指标服务已启动", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	client := okx.NewClient(&cfg.OKX, logger)

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()
	if err := client.Connect(startCtx); err != nil {
		logger.Error("OKX 连接失败", zap.Error(err))
		os.Exit(1)
	}
	if err := client.Subscribe(); err != nil {
		logger.Error("OKX 订阅失败", zap.Error(err))
		os.Exit(1)
	}

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		client.Run(ctx)
	}()

	// 每个合约一条单线程流水线
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.OKX.Instruments))
	var wg sync.WaitGroup
	for _, inst := range cfg.OKX.Instruments {
		p := pipeline.New(inst, cfg,
			pipeline.WithLogger(logger),
			pipeline.WithReporter(func(st pipeline.Stats) {
				m.ObservePipeline(st)
				m.ObserveQueueDropped(inst, client.Dropped(inst))
				m.ObserveDispatch(dispatcher.Stats())
			}),
		)
		pipelines = append(pipelines, p)

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx, client.Events(inst), dispatcher)
		}()
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Close()
		<-clientDone
		wg.Wait()
		_ = sinkWriter.Close()
	}()

	// 超时时流水线 goroutine 可能仍在运行，不能读取其内部状态
	if !awaitShutdown(logger, done, 10*time.Second) {
		pipelines = nil
	}
	logSummary(logger, client, dispatcher, sinkWriter, pipelines)
}

// awaitShutdown 等待优雅关闭完成
// 返回: false 表示超时
func awaitShutdown(logger *zap.Logger, done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		logger.Warn("关闭超时，强制退出")
		return false
	case <-done:
		logger.Info("关闭完成")
		return true
	}
}

// newSignalsWriter 按配置创建信号输出：标准输出或文件
func newSignalsWriter(cfg *config.OutputConfig) (*jsonl.Writer, error) {
	if cfg.SignalsToStdout() {
		return jsonl.NewStreamWriter("stdout", os.Stdout, cfg.BufferSize), nil
	}
	w, err := jsonl.NewWriter(cfg.SignalsPath, cfg.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("打开信号文件失败: %w", err)
	}
	return w, nil
}

// logSummary 输出退出前的汇总
func logSummary(logger *zap.Logger, client *okx.Client, d *output.Dispatcher, w *jsonl.Writer, pipelines []*pipeline.Pipeline) {
	cm := client.Metrics()
	logger.Info("连接汇总",
		zap.Uint64("frames", cm.Frames),
		zap.Uint64("reconnects", cm.ReconnectCount),
		zap.Uint64("parse_errors", cm.ParseErrorCount),
		zap.Uint64("skipped_entries", cm.SkippedEntries))

	ds := d.Stats()
	logger.Info("输出汇总",
		zap.String("sink", w.Name()),
		zap.Uint64("forwarded", ds.Forwarded),
		zap.Uint64("rejected", ds.Rejected),
		zap.Uint64("sink_drops", ds.SinkDrops),
		zap.Uint64("written", w.Written()))

	// Stats 读取流水线内部状态，只传入已退出的流水线
	for _, p := range pipelines {
		st := p.Stats()
		ms := p.Model()
		logger.Info("流水线汇总",
			zap.String("instrument", st.Instrument),
			zap.Uint64("events", st.Events),
			zap.Uint64("trades", st.Trades),
			zap.Uint64("books", st.Books),
			zap.Uint64("ring_dropped", st.RingDropped),
			zap.Uint64("queue_dropped", client.Dropped(st.Instrument)),
			zap.Uint64("seq_gaps", st.SeqGaps),
			zap.Int64("late_trades", st.LateTrades),
			zap.Int64("stale_trades", st.StaleTrades),
			zap.Uint64("passed", st.Passed),
			zap.Uint64("rejected", st.Rejected),
			zap.Uint64("model_updates", st.ModelUpdates),
			zap.Float64("learning_rate", st.LearningRate),
			zap.Float64("hit_rate", st.Calibration.HitRate),
			zap.Float64("log_loss", st.Calibration.LogLoss),
			zap.Float64s("weights", ms.Weights[:]))
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// 标准输出留给信号流
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
