package recorder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Fetcher yields the latest upstream batch. Its failures never touch the
// store; every error wraps ErrTransport, ErrUpstreamShape or ErrUpstreamAuth
// and is retryable.
type Fetcher interface {
	FetchBatch(ctx context.Context) ([]RawRecord, error)
}

const maxBodyBytes = 32 << 20

// HTTPFetcher calls the upstream history endpoint, logging in first when a
// login URL is configured.
type HTTPFetcher struct {
	cfg    UpstreamConfig
	client *http.Client
}

func NewHTTPFetcher(cfg UpstreamConfig) (*HTTPFetcher, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("APIURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "dice-recorder/1.0"
	}
	if len(cfg.BatchKeys) == 0 {
		cfg.BatchKeys = KeyList{"list", "data"}
	}
	return &HTTPFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (f *HTTPFetcher) FetchBatch(ctx context.Context) ([]RawRecord, error) {
	var token string
	if strings.TrimSpace(f.cfg.LoginURL) != "" {
		t, err := f.login(ctx)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		token = t
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.APIURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	f.setHeaders(req)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	body, err := f.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return decodeBatch(body, f.cfg.BatchKeys)
}

func (f *HTTPFetcher) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", f.cfg.Username)
	form.Set("password", f.cfg.Password)
	form.Set("siteKey", f.cfg.SiteKey)
	form.Set("captcha", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	f.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := f.do(req)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: login response is not JSON", ErrUpstreamShape)
	}
	token := gjson.GetBytes(body, "access_token")
	if token.Type != gjson.String || strings.TrimSpace(token.Str) == "" {
		return "", fmt.Errorf("%w: no access_token in login response", ErrUpstreamShape)
	}
	return token.Str, nil
}

func (f *HTTPFetcher) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.DeviceID != "" {
		req.Header.Set("Device-Id", f.cfg.DeviceID)
	}
}

func (f *HTTPFetcher) do(req *http.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http status %d", ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: http status %d", ErrTransport, resp.StatusCode)
	}
	return body, nil
}

// decodeBatch accepts a bare array or an object holding the array under one
// of keys. Anything else is ErrUpstreamShape.
func decodeBatch(body []byte, keys []string) ([]RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstreamShape)
	}
	res := gjson.ParseBytes(body)
	switch {
	case res.IsArray():
		return rawRecords(res), nil
	case res.IsObject():
		for _, key := range keys {
			if v := res.Get(key); v.IsArray() {
				return rawRecords(v), nil
			}
		}
		return nil, fmt.Errorf("%w: no batch under %s", ErrUpstreamShape, strings.Join(keys, "/"))
	default:
		return nil, fmt.Errorf("%w: response is a JSON %s", ErrUpstreamShape, res.Type)
	}
}

func rawRecords(arr gjson.Result) []RawRecord {
	elems := arr.Array()
	out := make([]RawRecord, 0, len(elems))
	for _, e := range elems {
		out = append(out, RawRecord(e.Raw))
	}
	return out
}
