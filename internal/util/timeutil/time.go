// Package timeutil 提供微秒级时间戳工具。
// 流水线内的所有时间戳（交易所时间、到达时间、解析完成时间）统一为 Unix 微秒。
package timeutil

import (
	"time"
)

var (
	// baseTime 进程启动时刻（含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 启动时刻的 Unix 纳秒
	baseUnixNs = baseTime.UnixNano()
)

// Clock 返回当前 Unix 微秒的时钟函数，测试中可替换
type Clock func() int64

// NowNano 当前 Unix 纳秒
// 由启动时的墙钟加单调时钟偏移得到，系统时间跳变时差值仍然单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMicro 当前 Unix 微秒
func NowMicro() int64 {
	return NowNano() / 1_000
}

// MsToMicro 毫秒转微秒（交易所时间戳为毫秒）
func MsToMicro(ms int64) int64 {
	return ms * 1_000
}

// MicroToTime 微秒时间戳转 time.Time
func MicroToTime(us int64) time.Time {
	return time.UnixMicro(us)
}

// SinceMicro 距指定微秒时间戳的间隔（微秒）
func SinceMicro(startUs int64) int64 {
	return NowMicro() - startUs
}

// FixedClock 返回固定时刻的时钟
func FixedClock(us int64) Clock {
	return func() int64 { return us }
}

// StepClock 返回每次调用前进 stepUs 的时钟，首次调用返回 startUs
func StepClock(startUs, stepUs int64) Clock {
	next := startUs
	return func() int64 {
		v := next
		next += stepUs
		return v
	}
}
