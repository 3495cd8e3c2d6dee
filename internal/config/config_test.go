// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigValidation_ThresholdRange 测试过滤阈值范围验证
// 属性: 阈值在 [0, 1] 范围外应验证失败
func TestConfigValidation_ThresholdRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("置信度小于0应验证失败", prop.ForAll(
		func(v float64) bool {
			cfg := createValidConfig()
			cfg.Filter.MinConfidence = v
			return cfg.Validate() != nil
		},
		gen.Float64Range(-1000, -0.0001),
	))

	properties.Property("置信度大于1应验证失败", prop.ForAll(
		func(v float64) bool {
			cfg := createValidConfig()
			cfg.Filter.MinConfidence = v
			return cfg.Validate() != nil
		},
		gen.Float64Range(1.0001, 1000),
	))

	properties.Property("short 阈值不小于 long 阈值应验证失败", prop.ForAll(
		func(long, delta float64) bool {
			cfg := createValidConfig()
			cfg.Filter.MinProbabilityLong = long
			cfg.Filter.MaxProbabilityShort = long + delta
			if cfg.Filter.MaxProbabilityShort > 1 {
				cfg.Filter.MaxProbabilityShort = 1
			}
			return cfg.Validate() != nil
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 0.5),
	))

	properties.Property("有效阈值应通过验证", prop.ForAll(
		func(conf, short, gap float64) bool {
			cfg := createValidConfig()
			cfg.Filter.MinConfidence = conf
			cfg.Filter.MaxProbabilityShort = short
			cfg.Filter.MinProbabilityLong = short + gap
			return cfg.Validate() == nil
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 0.5),
		gen.Float64Range(0.01, 0.5),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Capacities 测试容量参数验证
func TestConfigValidation_Capacities(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("非正数容量应验证失败", prop.ForAll(
		func(v int) bool {
			cfg := createValidConfig()
			cfg.Pipeline.RingCapacity = v
			if cfg.Validate() == nil {
				return false
			}
			cfg = createValidConfig()
			cfg.Pipeline.LatencyWindow = v
			return cfg.Validate() != nil
		},
		gen.IntRange(-100000, 0),
	))

	properties.TestingRun(t)
}

func TestConfigValidation_Cases(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "有效配置",
			mutate: func(c *Config) {},
		},
		{
			name:    "时间窗不可配置",
			mutate:  func(c *Config) { c.Pipeline.WindowsMs = []int{10, 20, 100} },
			wantErr: "pipeline.windows_ms",
		},
		{
			name:    "空合约列表",
			mutate:  func(c *Config) { c.OKX.Instruments = nil },
			wantErr: "okx.instruments",
		},
		{
			name:    "重复合约",
			mutate:  func(c *Config) { c.OKX.Instruments = []string{"BTC-USDT", "BTC-USDT"} },
			wantErr: "重复的合约",
		},
		{
			name:    "未知盘口频道",
			mutate:  func(c *Config) { c.OKX.BookChannel = "books50-l2-tbt" },
			wantErr: "okx.book_channel",
		},
		{
			name:    "无效日志级别",
			mutate:  func(c *Config) { c.App.LogLevel = "verbose" },
			wantErr: "app.log_level",
		},
		{
			name:    "学习率非正",
			mutate:  func(c *Config) { c.Model.LearningRate = 0 },
			wantErr: "model.learning_rate",
		},
		{
			name:    "衰减超过 1",
			mutate:  func(c *Config) { c.Model.LearningRateDecay = 1.5 },
			wantErr: "model.learning_rate_decay",
		},
		{
			name:    "负仓位",
			mutate:  func(c *Config) { c.Filter.MaxPosition = -1 },
			wantErr: "filter.max_position",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

// createValidConfig 创建有效的测试配置
func createValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test",
			LogLevel: "info",
		},
		OKX: OKXConfig{
			URL:            "wss://ws.okx.com:8443/ws/v5/public",
			Instruments:    []string{"HYPE-USDT"},
			BookChannel:    "books5",
			PingIntervalMs: 25000,
			PongTimeoutMs:  10000,
			QueueSize:      1024,
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
			BufferSize:       1000,
			ReportIntervalMs: 10000,
		},
	}
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: test-pipeline
  log_level: debug

okx:
  instruments:
    - HYPE-USDT
    - BTC-USDT
  book_channel: books5

pipeline:
  ring_capacity: 1024
  latency_window: 512

model:
  learning_rate: 0.01
  online_training: true

filter:
  min_confidence: 0.2
  min_probability_long: 0.6
  max_probability_short: 0.4
  max_position: 3

output:
  signals_path: ./out/signals.jsonl
  emit_rejected: true

metrics:
  enabled: true
  listen_addr: 127.0.0.1:9108
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-pipeline" {
		t.Errorf("App.Name = %s, want test-pipeline", cfg.App.Name)
	}
	if len(cfg.OKX.Instruments) != 2 {
		t.Errorf("Instruments 数量 = %d, want 2", len(cfg.OKX.Instruments))
	}
	if cfg.OKX.URL != "wss://ws.okx.com:8443/ws/v5/public" {
		t.Errorf("OKX.URL 默认值错误: %s", cfg.OKX.URL)
	}
	if cfg.Pipeline.RingCapacity != 1024 || cfg.Pipeline.LatencyWindow != 512 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.HorizonsUs() != [3]int64{10_000, 50_000, 100_000} {
		t.Errorf("HorizonsUs = %v", cfg.Pipeline.HorizonsUs())
	}
	if cfg.Model.LearningRate != 0.01 || cfg.Model.LearningRateDecay != 0.999 {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if cfg.Filter.MaxPosition != 3 {
		t.Errorf("Filter.MaxPosition = %f, want 3", cfg.Filter.MaxPosition)
	}
	if cfg.Output.SignalsToStdout() {
		t.Errorf("SignalsToStdout() 应为 false")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != "127.0.0.1:9108" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

// TestLoad_InvalidFile 测试加载不存在的文件
func TestLoad_InvalidFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("invalid: yaml: content:")); err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过验证: %v", err)
	}
	if !cfg.Output.SignalsToStdout() {
		t.Errorf("默认应输出到标准输出")
	}
	if cfg.Filter.MinProbabilityLong != 0.55 || cfg.Filter.MaxProbabilityShort != 0.45 || cfg.Filter.MinConfidence != 0.1 {
		t.Errorf("Filter 默认值 = %+v", cfg.Filter)
	}
}

// TestParse_ExplicitValuesOverrideDefaults 显式写出的 0 / false 不被默认值覆盖
func TestParse_ExplicitValuesOverrideDefaults(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "阈值显式为 0",
			yaml: "filter:\n  min_confidence: 0\n  max_probability_short: 0\n  min_probability_long: 0.6\n",
			check: func(t *testing.T, c *Config) {
				if c.Filter.MinConfidence != 0 || c.Filter.MaxProbabilityShort != 0 {
					t.Errorf("Filter = %+v, want min_confidence=0 max_probability_short=0", c.Filter)
				}
				if c.Filter.MinProbabilityLong != 0.6 || c.Filter.MaxPosition != 1 {
					t.Errorf("Filter = %+v", c.Filter)
				}
			},
		},
		{
			name: "缺省 online_training 时默认开启",
			yaml: "model:\n  learning_rate: 0.01\n",
			check: func(t *testing.T, c *Config) {
				if !c.Model.OnlineTraining {
					t.Errorf("OnlineTraining = false, want true")
				}
				if c.Model.LearningRate != 0.01 || c.Model.LearningRateDecay != 0.999 {
					t.Errorf("Model = %+v", c.Model)
				}
			},
		},
		{
			name: "显式关闭 online_training",
			yaml: "model:\n  online_training: false\n",
			check: func(t *testing.T, c *Config) {
				if c.Model.OnlineTraining {
					t.Errorf("OnlineTraining = true, want false")
				}
			},
		},
		{
			name: "空文件等同默认配置",
			yaml: "",
			check: func(t *testing.T, c *Config) {
				if c.Pipeline.RingCapacity != 4096 || len(c.OKX.Instruments) != 1 || !c.Model.OnlineTraining {
					t.Errorf("cfg = %+v", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

// TestParse_ExplicitZeroCapacityIsRejected 显式的非法 0 交给验证报告，而不是被默认值掩盖
func TestParse_ExplicitZeroCapacityIsRejected(t *testing.T) {
	_, err := Parse([]byte("pipeline:\n  ring_capacity: 0\n"))
	if err == nil || !strings.Contains(err.Error(), "pipeline.ring_capacity") {
		t.Fatalf("Parse() error = %v, want pipeline.ring_capacity", err)
	}
}

// TestParse_InstrumentListReplacesDefault 合约列表整体替换默认值
func TestParse_InstrumentListReplacesDefault(t *testing.T) {
	cfg, err := Parse([]byte("okx:\n  instruments: [BTC-USDT, ETH-USDT]\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.OKX.Instruments) != 2 || cfg.OKX.Instruments[0] != "BTC-USDT" {
		t.Fatalf("Instruments = %v", cfg.OKX.Instruments)
	}
	if cfg.OKX.BookChannel != "books5" {
		t.Fatalf("BookChannel = %q, want books5", cfg.OKX.BookChannel)
	}
}
