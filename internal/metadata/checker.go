package metadata

import (
	"context"
	"fmt"
	"strings"

	"okx-signal-pipeline/internal/config"
)

// CheckInstruments 检查配置的合约全部存在且为 live
// 参数 cfg: 元数据配置
// 参数 instruments: 配置的合约列表
// 参数 f: 元数据获取器
// 返回: 合约 ID -> 元数据；任一合约缺失或非 live 时返回汇总错误
func CheckInstruments(ctx context.Context, cfg *config.MetadataConfig, instruments []string, f Fetcher) (map[string]OKXInstrument, error) {
	insts, err := f.FetchOKX(ctx, cfg.URL, cfg.InstType)
	if err != nil {
		return nil, fmt.Errorf("获取 OKX 元数据失败: %w", err)
	}

	index := make(map[string]OKXInstrument, len(insts))
	for _, inst := range insts {
		index[inst.InstId] = inst
	}

	result := make(map[string]OKXInstrument, len(instruments))
	var errs []string
	for _, id := range instruments {
		inst, ok := index[id]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("%s: 在 %s 合约列表中不存在", id, cfg.InstType))
		case !inst.IsLive():
			errs = append(errs, fmt.Sprintf("%s: 状态为 %s", id, inst.State))
		default:
			result[id] = inst
		}
	}
	if len(errs) > 0 {
		return result, fmt.Errorf("合约检查失败:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return result, nil
}
