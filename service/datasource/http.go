/*
 * @module service/datasource/http
 * @description HTTP接口数据集来源，GET <base_url>/<样品>?column=<列名>
 * @architecture 简单HTTP客户端模式
 * @documentReference DESIGN.md, service/meta/datasource.go
 * @stateFlow HTTP生命周期：初始化配置 -> Open 返回句柄 -> ReadValues 发送请求并解析 -> 关闭
 * @rules 404 视为数据集不存在；配置了 token 时使用 Bearer 认证
 * @dependencies net/http, encoding/json
 * @refs interface.go, base.go, payload.go
 */

package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// maxResponseBytes 单个数据集响应体上限
const maxResponseBytes = 256 << 20

// HTTPDataSource HTTP数据源实现
type HTTPDataSource struct {
	*BaseDataSource
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPDataSource 创建HTTP数据源
func NewHTTPDataSource() DataSourceInterface {
	return &HTTPDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeApiHTTP, false),
		client:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Init 初始化HTTP数据源
func (h *HTTPDataSource) Init(ctx context.Context, cfg *Config) error {
	if err := h.BaseDataSource.Init(ctx, cfg); err != nil {
		return err
	}
	h.baseURL = strings.TrimSuffix(h.StringParam("base_url", ""), "/")
	h.token = h.StringParam("token", "")
	h.client.Timeout = h.DurationParam("read_timeout", h.client.Timeout)
	return nil
}

// SetHTTPClient 替换HTTP客户端
func (h *HTTPDataSource) SetHTTPClient(client *http.Client) {
	h.client = client
}

// Open 返回句柄，请求在 ReadValues 时发出
func (h *HTTPDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := h.ensureStarted(); err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, fmt.Errorf("%w: 标识符为空", ErrDatasetNotFound)
	}
	return h.WrapHandle(&httpHandle{h: h, identifier: identifier}), nil
}

type httpHandle struct {
	h          *HTTPDataSource
	identifier string
}

func (hh *httpHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	h := hh.h
	reqURL := fmt.Sprintf("%s/%s?%s", h.baseURL, url.PathEscape(hh.identifier), url.Values{"column": {column}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	slog.Debug("HTTPDataSource.ReadValues - 发送请求", "url", reqURL)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, hh.identifier)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("HTTP请求失败，状态码: %d, 响应: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return decodePayload(body, column)
}

func (hh *httpHandle) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
