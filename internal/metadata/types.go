// Package metadata 在启动时检查配置的合约在 OKX 上处于可交易状态。
package metadata

// StateLive 可交易状态
const StateLive = "live"

// OKXResponse OKX 合约元数据 API 响应
// API: GET /api/v5/public/instruments?instType=SPOT
type OKXResponse struct {
	// Code 响应码，"0" 表示成功
	Code string `json:"code"`
	// Msg 错误消息
	Msg string `json:"msg"`
	// Data 合约列表
	Data []OKXInstrument `json:"data"`
}

// OKXInstrument OKX 合约信息（只保留检查所需字段）
type OKXInstrument struct {
	// InstId 合约 ID，如 HYPE-USDT
	InstId string `json:"instId"`
	// InstType SPOT / SWAP / FUTURES
	InstType string `json:"instType"`
	// TickSz 最小价格变动单位
	TickSz string `json:"tickSz"`
	// LotSz 最小交易数量
	LotSz string `json:"lotSz"`
	// State 合约状态: live, suspend, preopen, test
	State string `json:"state"`
}

// IsLive 是否可交易
func (i *OKXInstrument) IsLive() bool {
	return i.State == StateLive
}
