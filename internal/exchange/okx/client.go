// Package okx 实现 OKX 公共行情 WebSocket 客户端。
// 连接地址: wss://ws.okx.com:8443/ws/v5/public
// 订阅频道: trades + books5（或 bbo-tbt）
// 心跳机制: 文本 ping/pong，默认 25 秒间隔，10 秒超时
package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"okx-signal-pipeline/internal/config"
	"okx-signal-pipeline/internal/core/model"
	"okx-signal-pipeline/internal/util/backoff"
	"okx-signal-pipeline/internal/util/timeutil"
)

// ErrNotConnected 连接尚未建立
var ErrNotConnected = errors.New("okx: WebSocket 未连接")

// route 单个合约的输出通道
type route struct {
	ch      chan model.MarketEvent
	dropped atomic.Uint64
}

// Client OKX WebSocket 客户端
// 读循环是唯一的生产者：每个合约一个有界通道，通道满时丢弃事件并计数，从不阻塞。
type Client struct {
	// cfg 连接配置
	cfg *config.OKXConfig
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器（仅读循环使用）
	parser *Parser
	// routes 合约 -> 输出通道
	routes map[string]*route
	// scratch 解析结果复用缓冲
	scratch []model.MarketEvent

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 串行化连接替换与写入
	connMu sync.Mutex
	// backoff 重连退避
	backoff *backoff.Backoff

	lastMsgNs      atomic.Int64
	lastPingSentNs atomic.Int64
	lastPongRecvNs atomic.Int64
	wsRttMs        atomic.Int64

	reconnects  atomic.Uint64
	parseErrors atomic.Uint64
	frames      atomic.Uint64

	// closed 是否已关闭
	closed atomic.Bool
	// routesOnce 保证输出通道只关闭一次
	routesOnce sync.Once

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount atomic.Uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs atomic.Int64
}

// NewClient 创建 OKX WebSocket 客户端
// 参数 cfg: 连接配置（合约列表、盘口频道、心跳、队列容量）
// 参数 logger: 日志记录器
func NewClient(cfg *config.OKXConfig, logger *zap.Logger) *Client {
	routes := make(map[string]*route, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		routes[inst] = &route{ch: make(chan model.MarketEvent, cfg.QueueSize)}
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("okx"),
		parser:  NewParser(cfg.Instruments, cfg.BookChannel),
		routes:  routes,
		scratch: make([]model.MarketEvent, 0, 64),
		backoff: backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "okx-signal-pipeline/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 OKX WebSocket 失败: %w", err)
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	c.backoff.Reset()
	c.logger.Info("OKX WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// SubscribeArgs 构造订阅参数: 每个合约订阅成交与盘口两个频道
func SubscribeArgs(instruments []string, bookChannel string) []SubscribeArg {
	args := make([]SubscribeArg, 0, 2*len(instruments))
	for _, inst := range instruments {
		args = append(args,
			SubscribeArg{Channel: ChannelTrades, InstId: inst},
			SubscribeArg{Channel: bookChannel, InstId: inst},
		)
	}
	return args
}

// Subscribe 发送订阅请求
func (c *Client) Subscribe() error {
	req := SubscribeRequest{
		Op:   "subscribe",
		Args: SubscribeArgs(c.cfg.Instruments, c.cfg.BookChannel),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("OKX 订阅请求已发送",
		zap.Strings("instruments", c.cfg.Instruments),
		zap.String("book_channel", c.cfg.BookChannel))
	return nil
}

// Run 启动心跳并运行读循环，直到 ctx 取消或 Close
// 返回前关闭全部输出通道。
func (c *Client) Run(ctx context.Context) {
	defer c.closeRoutes()

	go c.heartbeatLoop(ctx)
	c.readLoop(ctx)
}

// readLoop 读取循环
func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || c.closed.Load() {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取 OKX 消息失败", zap.Error(err))
			c.reconnects.Add(1)
			c.reconnect(ctx)
			continue
		}

		c.HandleFrame(msgType, data, timeutil.NowMicro())
	}
}

// HandleFrame 处理一帧: 二进制帧解压、pong/事件帧识别、解析并路由到合约通道
// 参数 msgType: WebSocket 消息类型，只有 BinaryMessage 会尝试解压
// 参数 data: 原始帧
// 参数 arrivalUs: 帧到达时间（微秒）
func (c *Client) HandleFrame(msgType int, data []byte, arrivalUs int64) {
	c.lastMsgNs.Store(timeutil.NowNano())

	if msgType == websocket.BinaryMessage {
		data, _ = Inflate(data)
	}

	if IsPong(data) {
		nowNs := timeutil.NowNano()
		c.lastPongRecvNs.Store(nowNs)
		if lastPing := c.lastPingSentNs.Load(); lastPing > 0 {
			c.wsRttMs.Store((nowNs - lastPing) / 1_000_000)
		}
		return
	}

	events, evt, err := c.parser.AppendParseFrame(c.scratch[:0], data, arrivalUs)
	c.scratch = events[:0]
	if evt != nil {
		if evt.Event == "error" {
			c.logger.Error("OKX 返回错误事件", zap.String("code", evt.Code), zap.String("msg", evt.Msg))
		} else {
			c.logger.Debug("收到 OKX 事件", zap.String("event", evt.Event), zap.ByteString("data", data))
		}
		return
	}

	c.frames.Add(1)
	if err != nil {
		c.parseErrors.Add(1)
		c.maybeLogParseError(err, data)
		return
	}

	for i := range events {
		r, ok := c.routes[events[i].Instrument]
		if !ok {
			continue
		}
		select {
		case r.ch <- events[i]:
		default:
			r.dropped.Add(1)
		}
	}
}

// heartbeatLoop 周期发送 ping，超时未收到 pong 时断开连接触发重连
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.PingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.closed.Load() {
				return
			}

			lastPing := c.lastPingSentNs.Load()
			lastPong := c.lastPongRecvNs.Load()
			if lastPing > 0 && lastPong < lastPing &&
				timeutil.NowNano()-lastPing > int64(c.cfg.PongTimeoutMs)*1_000_000 {
				c.logger.Warn("OKX 心跳超时，触发重连")
				c.closeConn()
				continue
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			// gorilla/websocket 不允许并发写，这里在 connMu 内写
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 OKX ping 失败", zap.Error(err))
				continue
			}
			c.lastPingSentNs.Store(timeutil.NowNano())
		}
	}
}

// reconnect 关闭旧连接，退避后重连并重新订阅
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	if err := c.backoff.Wait(ctx); err != nil {
		return
	}
	if c.closed.Load() {
		return
	}
	c.logger.Info("OKX 重连", zap.Int("attempt", c.backoff.Attempt()))

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("OKX 重连失败", zap.Error(err))
		return
	}
	c.lastPingSentNs.Store(0)
	c.lastPongRecvNs.Store(0)
	if err := c.Subscribe(); err != nil {
		c.logger.Error("OKX 重新订阅失败", zap.Error(err))
	}
}

// closeConn 关闭当前连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// closeRoutes 关闭全部输出通道
func (c *Client) closeRoutes() {
	c.routesOnce.Do(func() {
		for _, r := range c.routes {
			close(r.ch)
		}
	})
}

// Close 关闭客户端，读循环随后退出
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeConn()
	c.logger.Info("OKX 客户端已关闭")
	return nil
}

// Events 返回合约的事件通道，未配置的合约返回 nil
func (c *Client) Events(instrument string) <-chan model.MarketEvent {
	r, ok := c.routes[instrument]
	if !ok {
		return nil
	}
	return r.ch
}

// Dropped 合约通道满导致的丢弃数
func (c *Client) Dropped(instrument string) uint64 {
	r, ok := c.routes[instrument]
	if !ok {
		return 0
	}
	return r.dropped.Load()
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	m := ConnectionMetrics{
		ReconnectCount:  c.reconnects.Load(),
		ParseErrorCount: c.parseErrors.Load(),
		SkippedEntries:  c.parser.Skipped(),
		Frames:          c.frames.Load(),
		WsRttMs:         c.wsRttMs.Load(),
	}
	if last := c.lastMsgNs.Load(); last > 0 {
		m.LastMessageAgeMs = (timeutil.NowNano() - last) / 1_000_000
	}
	return m
}

// maybeLogParseError 采样记录解析错误原始消息
// 每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := c.parseErrSampleCount.Add(1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := c.lastParseErrLogNs.Load()
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	c.lastParseErrLogNs.Store(nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 OKX 消息失败（采样）",
		zap.Error(err),
		zap.Uint64("count", count),
		zap.ByteString("data", sample))
}
