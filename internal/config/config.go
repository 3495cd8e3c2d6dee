// Package config 负责加载和验证 YAML 配置文件。
// 提供流水线所需的所有配置项，包括 OKX 连接、缓冲容量、模型参数、过滤阈值等。
// 配置在启动时加载，进程生命周期内保持不变。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// OKX 行情连接配置
	OKX OKXConfig `yaml:"okx"`
	// Metadata 合约元数据检查配置
	Metadata MetadataConfig `yaml:"metadata"`
	// Pipeline 流水线容量配置
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Model 在线模型配置
	Model ModelConfig `yaml:"model"`
	// Filter 信号过滤配置
	Filter FilterConfig `yaml:"filter"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// OKXConfig OKX WebSocket 配置
type OKXConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// Instruments 订阅的合约列表，如 HYPE-USDT
	Instruments []string `yaml:"instruments"`
	// BookChannel 盘口频道: books5 或 bbo-tbt
	BookChannel string `yaml:"book_channel"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// QueueSize 每个合约的事件通道容量
	QueueSize int `yaml:"queue_size"`
}

// MetadataConfig 合约元数据检查配置
type MetadataConfig struct {
	// Enabled 是否在启动时检查合约状态
	Enabled bool `yaml:"enabled"`
	// URL 合约元数据 API 地址
	URL string `yaml:"url"`
	// InstType 合约类型: SPOT, SWAP
	InstType string `yaml:"inst_type"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// PipelineConfig 流水线容量配置
type PipelineConfig struct {
	// RingCapacity 行情事件环形缓冲区容量
	RingCapacity int `yaml:"ring_capacity"`
	// TradeCapacity 时间窗成交缓存容量
	TradeCapacity int `yaml:"trade_capacity"`
	// LatencyWindow 每个阶段的时延样本窗口大小
	LatencyWindow int `yaml:"latency_window"`
	// PercentileRefresh 信号上附带的分位数快照刷新间隔（事件数）
	PercentileRefresh int `yaml:"percentile_refresh"`
	// WindowsMs 成交量时间窗（毫秒），固定为 10/50/100
	WindowsMs []int `yaml:"windows_ms"`
}

// ModelConfig 在线逻辑回归配置
type ModelConfig struct {
	// LearningRate 初始学习率
	LearningRate float64 `yaml:"learning_rate"`
	// LearningRateDecay 每次训练后的学习率衰减系数
	LearningRateDecay float64 `yaml:"learning_rate_decay"`
	// MinLearningRate 学习率下限
	MinLearningRate float64 `yaml:"min_learning_rate"`
	// OnlineTraining 是否按中间价变动在线训练
	OnlineTraining bool `yaml:"online_training"`
}

// FilterConfig 信号过滤阈值
type FilterConfig struct {
	// MinConfidence 最小置信度（含边界）
	MinConfidence float64 `yaml:"min_confidence"`
	// MinProbabilityLong 概率 >= 此值判为 long
	MinProbabilityLong float64 `yaml:"min_probability_long"`
	// MaxProbabilityShort 概率 <= 此值判为 short
	MaxProbabilityShort float64 `yaml:"max_probability_short"`
	// MaxPosition 最大仓位，仓位 = confidence × MaxPosition
	MaxPosition float64 `yaml:"max_position"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// SignalsPath 信号 JSONL 输出路径，空或 "-" 表示标准输出
	SignalsPath string `yaml:"signals_path"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// EmitRejected 是否输出被过滤的信号（forwarded=false）
	EmitRejected bool `yaml:"emit_rejected"`
	// ReportIntervalMs 周期汇报间隔（毫秒）
	ReportIntervalMs int `yaml:"report_interval_ms"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否启用 /metrics
	Enabled bool `yaml:"enabled"`
	// ListenAddr 监听地址
	ListenAddr string `yaml:"listen_addr"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 从 YAML 字节解析配置并验证
// YAML 覆盖在默认配置之上：缺省的键保留默认值，显式写出的值（包括 0 和 false）原样保留。
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return cfg, nil
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "okx-signal-pipeline",
			LogLevel: "info",
		},
		OKX: OKXConfig{
			URL:            "wss://ws.okx.com:8443/ws/v5/public",
			Instruments:    []string{"HYPE-USDT"},
			BookChannel:    "books5",
			PingIntervalMs: 25000, // 25 秒
			PongTimeoutMs:  10000, // 10 秒
			QueueSize:      8192,
		},
		Metadata: MetadataConfig{
			URL:       "https://www.okx.com/api/v5/public/instruments",
			InstType:  "SPOT",
			TimeoutMs: 10000,
		},
		Pipeline: PipelineConfig{
			RingCapacity:      4096,
			TradeCapacity:     4096,
			LatencyWindow:     2048,
			PercentileRefresh: 64,
			WindowsMs:         []int{10, 50, 100},
		},
		Model: ModelConfig{
			LearningRate:      0.05,
			LearningRateDecay: 0.999,
			MinLearningRate:   1e-4,
			OnlineTraining:    true,
		},
		Filter: FilterConfig{
			MinConfidence:       0.1,
			MinProbabilityLong:  0.55,
			MaxProbabilityShort: 0.45,
			MaxPosition:         1,
		},
		Output: OutputConfig{
			BufferSize:       4096,
			ReportIntervalMs: 10000, // 10 秒
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9108",
		},
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if c.OKX.URL == "" {
		errs = append(errs, "okx.url: WebSocket 地址不能为空")
	}
	if len(c.OKX.Instruments) == 0 {
		errs = append(errs, "okx.instruments: 至少需要配置一个合约")
	}
	seen := make(map[string]bool, len(c.OKX.Instruments))
	for i, inst := range c.OKX.Instruments {
		if inst == "" {
			errs = append(errs, fmt.Sprintf("okx.instruments[%d]: 合约不能为空", i))
			continue
		}
		if seen[inst] {
			errs = append(errs, fmt.Sprintf("okx.instruments[%d]: 重复的合约 %s", i, inst))
		}
		seen[inst] = true
	}
	if c.OKX.BookChannel != "books5" && c.OKX.BookChannel != "bbo-tbt" {
		errs = append(errs, fmt.Sprintf("okx.book_channel: 不支持的频道 '%s'，有效值: books5, bbo-tbt", c.OKX.BookChannel))
	}
	if c.OKX.PingIntervalMs <= 0 {
		errs = append(errs, "okx.ping_interval_ms: 心跳间隔必须为正数")
	}
	if c.OKX.QueueSize <= 0 {
		errs = append(errs, "okx.queue_size: 通道容量必须为正数")
	}

	if c.Pipeline.RingCapacity <= 0 {
		errs = append(errs, "pipeline.ring_capacity: 容量必须为正数")
	}
	if c.Pipeline.TradeCapacity <= 0 {
		errs = append(errs, "pipeline.trade_capacity: 容量必须为正数")
	}
	if c.Pipeline.LatencyWindow <= 0 {
		errs = append(errs, "pipeline.latency_window: 窗口大小必须为正数")
	}
	if c.Pipeline.PercentileRefresh <= 0 {
		errs = append(errs, "pipeline.percentile_refresh: 刷新间隔必须为正数")
	}
	if !equalInts(c.Pipeline.WindowsMs, []int{10, 50, 100}) {
		errs = append(errs, fmt.Sprintf("pipeline.windows_ms: 时间窗固定为 [10 50 100]，当前值: %v", c.Pipeline.WindowsMs))
	}

	if c.Model.LearningRate <= 0 {
		errs = append(errs, "model.learning_rate: 学习率必须为正数")
	}
	if c.Model.LearningRateDecay <= 0 || c.Model.LearningRateDecay > 1 {
		errs = append(errs, "model.learning_rate_decay: 衰减系数必须在 (0, 1] 之间")
	}
	if c.Model.MinLearningRate < 0 {
		errs = append(errs, "model.min_learning_rate: 学习率下限不能为负数")
	}

	if err := validateUnit(c.Filter.MinConfidence, "filter.min_confidence"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateUnit(c.Filter.MinProbabilityLong, "filter.min_probability_long"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateUnit(c.Filter.MaxProbabilityShort, "filter.max_probability_short"); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Filter.MaxProbabilityShort >= c.Filter.MinProbabilityLong {
		errs = append(errs, "filter.max_probability_short: 必须小于 filter.min_probability_long")
	}
	if c.Filter.MaxPosition < 0 {
		errs = append(errs, "filter.max_position: 最大仓位不能为负数")
	}

	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}
	if c.Output.ReportIntervalMs <= 0 {
		errs = append(errs, "output.report_interval_ms: 汇报间隔必须为正数")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, "metrics.listen_addr: 启用指标时监听地址不能为空")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateUnit 验证取值在 [0, 1] 范围内
func validateUnit(v float64, field string) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: 取值必须在 0-1 之间，当前值: %f", field, v)
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HorizonsUs 返回时间窗（微秒）
func (p *PipelineConfig) HorizonsUs() [3]int64 {
	var out [3]int64
	for i := 0; i < len(out) && i < len(p.WindowsMs); i++ {
		out[i] = int64(p.WindowsMs[i]) * 1000
	}
	return out
}

// SignalsToStdout 信号是否输出到标准输出
func (o *OutputConfig) SignalsToStdout() bool {
	return o.SignalsPath == "" || o.SignalsPath == "-"
}
