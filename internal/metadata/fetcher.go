package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Fetcher 合约元数据获取接口
type Fetcher interface {
	// FetchOKX 获取指定类型的 OKX 合约列表
	FetchOKX(ctx context.Context, baseURL, instType string) ([]OKXInstrument, error)
}

// HTTPFetcher 通过 HTTP 获取元数据
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchOKX 获取 OKX 合约元数据
// 参数 baseURL: /api/v5/public/instruments 地址
// 参数 instType: SPOT / SWAP
func (f *HTTPFetcher) FetchOKX(ctx context.Context, baseURL, instType string) ([]OKXInstrument, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("元数据地址无效: %w", err)
	}
	q := u.Query()
	q.Set("instType", instType)
	u.RawQuery = q.Encode()

	body, err := f.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("请求 OKX 元数据失败: %w", err)
	}

	var resp OKXResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 OKX 元数据失败: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("OKX API 返回错误: code=%s, msg=%s", resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

// doRequest 执行 HTTP GET 请求
func (f *HTTPFetcher) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "okx-signal-pipeline/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	return body, nil
}
