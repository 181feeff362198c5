// Package vision talks to the perception sidecar that owns frame capture,
// template matching and OCR.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"autodelta/internal/config"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/ports"
)

type Client struct {
	cfg  config.BridgeConfig
	bus  *logbus.Bus
	http *resty.Client
}

func New(cfg config.BridgeConfig, bus *logbus.Bus) *Client {
	c := &Client{cfg: cfg, bus: bus}
	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.VisionURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetRetryCount(cfg.Retry.Count).
		SetRetryWaitTime(cfg.Retry.Wait()).
		SetRetryMaxWaitTime(cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if c.bus != nil {
			c.bus.Log("debug", "vision request", map[string]any{"method": req.Method, "url": req.URL})
		}
		return nil
	})
	return c
}

func post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var zero T
	var env Envelope[T]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&env).
		SetError(&env).
		Post(path)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: %v", ports.ErrBridgeUnavailable, err)
	}
	if resp.StatusCode() >= 500 {
		return zero, fmt.Errorf("%w: status %d", ports.ErrBridgeUnavailable, resp.StatusCode())
	}
	if !env.Success {
		if env.Error == ErrCodeUnknownTarget {
			return zero, ports.ErrUnknownTarget
		}
		if env.Error == "" {
			env.Error = fmt.Sprintf("%s failed with status %d", path, resp.StatusCode())
		}
		return zero, errors.New(env.Error)
	}
	return env.Data, nil
}

func (c *Client) Locate(ctx context.Context, target string) (model.MatchResult, bool, error) {
	res, err := post[LocateResult](ctx, c, "/locate", LocateRequest{Target: target})
	if err != nil {
		return model.MatchResult{}, false, fmt.Errorf("locate %s: %w", target, err)
	}
	if !res.Found {
		return model.MatchResult{}, false, nil
	}
	return model.MatchResult{
		Target:     target,
		Point:      model.Point{X: res.X, Y: res.Y},
		Confidence: res.Score,
	}, true, nil
}

func (c *Client) ReadText(ctx context.Context, region model.Region, whitelist string) (string, error) {
	res, err := post[OCRResult](ctx, c, "/ocr", OCRRequest{
		Region:    [4]int{region.X1, region.Y1, region.X2, region.Y2},
		Whitelist: whitelist,
	})
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return filterText(res.Text, whitelist), nil
}

// ReadNumber reads the digits in region. An empty read is not an error.
func (c *Client) ReadNumber(ctx context.Context, region model.Region) (int, bool, error) {
	text, err := c.ReadText(ctx, region, "0123456789")
	if err != nil {
		return 0, false, err
	}
	if text == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrBridgeUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ports.ErrBridgeUnavailable, resp.StatusCode())
	}
	return nil
}

func filterText(s, whitelist string) string {
	s = strings.TrimSpace(s)
	if whitelist == "" {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(whitelist, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
