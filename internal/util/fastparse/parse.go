// Package fastparse 解析交易所推送中的字符串数值字段。
// OKX 的价格、数量、时间戳均以字符串下发。
package fastparse

import (
	"errors"
	"math"
	"strconv"
)

var (
	// ErrEmpty 空字段
	ErrEmpty = errors.New("fastparse: 空字段")
	// ErrNotFinite 非有限数值
	ErrNotFinite = errors.New("fastparse: 非有限数值")
	// ErrNegative 负数
	ErrNegative = errors.New("fastparse: 负数")
	// ErrShortLevel 档位字段不足
	ErrShortLevel = errors.New("fastparse: 档位字段不足")
	// ErrOutOfRange 换算为微秒后超出 int64
	ErrOutOfRange = errors.New("fastparse: 时间戳超出范围")
)

// Float 解析有限浮点数
func Float(s string) (float64, error) {
	if s == "" {
		return 0, ErrEmpty
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}

// NonNegFloat 解析非负有限浮点数（价格、数量）
func NonNegFloat(s string) (float64, error) {
	v, err := Float(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, ErrNegative
	}
	return v, nil
}

// maxMs 换算为微秒不溢出的最大毫秒值
const maxMs = math.MaxInt64 / 1_000

// MsToMicro 解析毫秒时间戳字符串并转换为微秒
func MsToMicro(s string) (int64, error) {
	if s == "" {
		return 0, ErrEmpty
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, ErrNegative
	}
	if ms > maxMs {
		return 0, ErrOutOfRange
	}
	return ms * 1_000, nil
}

// Level 解析深度档位 [价格, 数量, ...]
func Level(fields []string) (px, sz float64, err error) {
	if len(fields) < 2 {
		return 0, 0, ErrShortLevel
	}
	if px, err = NonNegFloat(fields[0]); err != nil {
		return 0, 0, err
	}
	if sz, err = NonNegFloat(fields[1]); err != nil {
		return 0, 0, err
	}
	return px, sz, nil
}
