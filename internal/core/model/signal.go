package model

// FeatureCount 模型输入维度（含 bias）
const FeatureCount = 6

// Features 单个时刻的特征值
// imbalance/spread 为最新盘口的点值，vol* 为对应时间窗内的成交量之和。
type Features struct {
	// Imbalance 一档量不平衡，范围 [-1, 1]
	Imbalance float64 `json:"imbalance_top1"`
	// Spread 卖一价 - 买一价
	Spread float64 `json:"spread"`
	// Vol10 10ms 窗口成交量
	Vol10 float64 `json:"vol10"`
	// Vol50 50ms 窗口成交量
	Vol50 float64 `json:"vol50"`
	// Vol100 100ms 窗口成交量
	Vol100 float64 `json:"vol100"`
}

// Vector 转换为模型输入向量
// 顺序: [imbalance_top1, spread, vol10, vol50, vol100, bias]
func (f Features) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{f.Imbalance, f.Spread, f.Vol10, f.Vol50, f.Vol100, 1}
}

// Direction 信号方向
type Direction string

const (
	// DirectionLong 做多
	DirectionLong Direction = "long"
	// DirectionShort 做空
	DirectionShort Direction = "short"
	// DirectionFlat 观望
	DirectionFlat Direction = "flat"
)

// LatencyBreakdown 单条事件在各阶段的耗时（微秒）
// Dispatch 在信号交付后才可测得，因此只进入分位数统计，不出现在本结构中。
type LatencyBreakdown struct {
	// ReceiveUs 网络时延: 到达时间 - 交易所时间
	ReceiveUs int64 `json:"receive_us"`
	// ParseUs 解析耗时
	ParseUs int64 `json:"parse_us"`
	// FeatureUs 特征计算耗时
	FeatureUs int64 `json:"feature_us"`
	// SignalUs 模型推断与过滤耗时
	SignalUs int64 `json:"signal_us"`
}

// TotalUs 各阶段耗时之和
func (b LatencyBreakdown) TotalUs() int64 {
	return b.ReceiveUs + b.ParseUs + b.FeatureUs + b.SignalUs
}

// StageLatency 某阶段的滚动分位数（微秒）
type StageLatency struct {
	// Stage 阶段名称
	Stage string `json:"stage"`
	// P50Us 中位数
	P50Us int64 `json:"p50_us"`
	// P95Us 95 分位
	P95Us int64 `json:"p95_us"`
}

// Signal 交易信号
// 被过滤的信号同样生成（用于观测），但 Forwarded=false，不得作为可执行信号交付下游。
type Signal struct {
	// Instrument 合约 ID
	Instrument string `json:"instrument"`
	// Seq 触发事件的序列号
	Seq uint64 `json:"seq"`
	// SourceTsUs 触发事件的交易所时间（微秒）
	SourceTsUs int64 `json:"source_ts_us"`
	// EventKind 触发事件类型
	EventKind string `json:"event"`
	// Probability 上涨概率 [0, 1]
	Probability float64 `json:"probability"`
	// Confidence 置信度 = 2·|p - 0.5|
	Confidence float64 `json:"confidence"`
	// Direction 方向: long/short/flat
	Direction Direction `json:"direction"`
	// PositionSize 建议仓位 = confidence × max_position
	PositionSize float64 `json:"position_size"`
	// Forwarded 是否通过过滤器
	Forwarded bool `json:"forwarded"`
	// RejectReason 过滤原因（若被过滤）
	RejectReason string `json:"reject_reason,omitempty"`
	// Features 触发时的特征值
	Features Features `json:"features"`
	// Latency 本事件各阶段耗时
	Latency LatencyBreakdown `json:"latency"`
	// Percentiles 各阶段滚动分位数快照
	Percentiles []StageLatency `json:"percentiles,omitempty"`
}
