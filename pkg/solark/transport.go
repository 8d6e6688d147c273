package solark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/samber/lo"

	"github.com/raterudder/solarkbridge/pkg/log"
)

// codeOK reports whether an envelope "code" means success. A missing code
// is only acceptable on regular API calls, not on logins.
func codeOK(code any, allowNil bool) bool {
	switch c := code.(type) {
	case nil:
		return allowNil
	case string:
		return c == "0"
	case bool:
		return !c
	}
	f, ok := toFloat(code)
	return ok && f == 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, params url.Values, body []byte) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")
	return req, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, endpoint, nil, payload)
}

// do performs an authenticated request and returns the decoded envelope. A
// response that is valid JSON but not an object yields a nil map. A rejected
// token is refreshed and the request retried once.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload any) (map[string]any, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", endpoint, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.auth.ensureToken(ctx); err != nil {
			return nil, err
		}
		tok := c.auth.token()

		res, err := c.roundTrip(ctx, method, endpoint, params, body, tok)
		if err != nil && attempt == 0 && tok != "" && isUnauthorized(err) {
			log.Ctx(ctx).DebugContext(ctx, "solark token rejected, logging in again", slog.String("endpoint", endpoint))
			c.auth.invalidate(tok)
			continue
		}
		return res, err
	}
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, params url.Values, body []byte, tok string) (map[string]any, error) {
	req, err := c.newRequest(ctx, method, endpoint, params, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	log.Ctx(ctx).DebugContext(ctx, "solark request",
		slog.String("method", method),
		slog.String("url", req.URL.String()),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindTimeout, err, "Timeout for %s", endpoint)
		}
		return nil, newError(KindNetwork, err, "Client error for %s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindTimeout, err, "Timeout for %s", endpoint)
		}
		return nil, newError(KindNetwork, err, "Client error for %s: %v", endpoint, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "solark response",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.String("body", lo.Substring(string(text), 0, 1000)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := newError(KindHTTPStatus, nil, "HTTP %d for %s: %s", resp.StatusCode, endpoint, lo.Substring(string(text), 0, 500))
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	var decoded any
	if err := json.Unmarshal(text, &decoded); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode solark response", slog.Any("error", err), slog.String("endpoint", endpoint))
		return nil, newError(KindInvalidJSON, err, "Invalid JSON response from %s: %s", endpoint, lo.Substring(string(text), 0, 200))
	}

	res, ok := asObject(decoded)
	if !ok {
		return nil, nil
	}
	if code := res["code"]; !codeOK(code, true) {
		msg, ok := res["msg"]
		if !ok {
			msg = "Unknown error"
		}
		log.Ctx(ctx).ErrorContext(ctx, "solark api error", slog.String("endpoint", endpoint), slog.Any("msg", msg), slog.Any("code", code))
		e := newError(KindAPICode, nil, "API error for %s: %v (code=%v)", endpoint, msg, code)
		e.Code = code
		return nil, e
	}
	return res, nil
}
