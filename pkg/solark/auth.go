package solark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/raterudder/solarkbridge/pkg/log"
)

const (
	// DefaultLegacyLoginURL is the pre-OAuth login endpoint. It lives on a
	// different host than the rest of the API.
	DefaultLegacyLoginURL = "https://api.solarkcloud.com/rest/account/login"

	oauthClientID       = "csp-web"
	oauthDefaultExpiry  = 3600
	oauthExpirySkew     = 60 * time.Second
	legacyTokenLifetime = 30 * time.Minute
)

// tokenRule extracts a token from a decoded login response.
type tokenRule func(resp map[string]any) (string, bool)

// field returns a rule that walks path through nested objects and yields a
// non-empty string at the end.
func field(path ...string) tokenRule {
	return func(resp map[string]any) (string, bool) {
		cur := resp
		for i, p := range path {
			v, ok := cur[p]
			if !ok {
				return "", false
			}
			if i == len(path)-1 {
				s := asString(v)
				return s, s != ""
			}
			if cur, ok = asObject(v); !ok {
				return "", false
			}
		}
		return "", false
	}
}

var (
	oauthTokenRules = []tokenRule{
		field("data", "access_token"),
		field("data", "token"),
	}
	legacyTokenRules = []tokenRule{
		field("token"),
		field("access_token"),
		field("data", "token"),
		field("data", "access_token"),
	}
)

func extractToken(resp map[string]any, rules []tokenRule) (string, bool) {
	for _, rule := range rules {
		if tok, ok := rule(resp); ok {
			return tok, true
		}
	}
	return "", false
}

type session struct {
	token        string
	refreshToken string
	expiry       time.Time
}

type loginMethod struct {
	name  string
	login func(ctx context.Context) (session, error)
}

// auth owns the bearer token. Logins are serialized by mu so concurrent
// callers that find an expired token converge on a single login.
type auth struct {
	client         *http.Client
	username       string
	password       string
	baseURL        string
	apiURL         string
	legacyLoginURL string
	now            func() time.Time

	mu      sync.Mutex
	current session
	methods []loginMethod
}

func newAuth(client *http.Client, username, password, baseURL, apiURL, legacyLoginURL string) *auth {
	a := &auth{
		client:         client,
		username:       username,
		password:       password,
		baseURL:        baseURL,
		apiURL:         apiURL,
		legacyLoginURL: legacyLoginURL,
		now:            time.Now,
	}
	a.methods = []loginMethod{
		{name: "oauth", login: a.oauthLogin},
		{name: "legacy", login: a.legacyLogin},
	}
	return a
}

// token returns the current bearer token, possibly empty.
func (a *auth) token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.token
}

// invalidate drops tok if it is still the current token.
func (a *auth) invalidate(tok string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.token == tok {
		a.current = session{}
	}
}

func (a *auth) validLocked() bool {
	return a.current.token != "" && a.now().Before(a.current.expiry)
}

// ensureToken logs in only if there is no unexpired token.
func (a *auth) ensureToken(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validLocked() {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "token missing or expired, logging in")
	return a.loginLocked(ctx)
}

// login forces a new login regardless of the current token.
func (a *auth) login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginLocked(ctx)
}

func (a *auth) loginLocked(ctx context.Context) error {
	var msgs []string
	var errs []error
	for _, m := range a.methods {
		s, err := m.login(ctx)
		if err == nil {
			a.current = s
			log.Ctx(ctx).DebugContext(ctx, "solark login success",
				slog.String("method", m.name),
				slog.Time("expiry", s.expiry),
			)
			return nil
		}
		log.Ctx(ctx).DebugContext(ctx, "solark login method failed", slog.String("method", m.name), slog.Any("error", err))
		msgs = append(msgs, m.name+": "+err.Error())
		errs = append(errs, err)
	}
	return newError(KindAuth, errors.Join(errs...), "All login methods failed: %s", strings.Join(msgs, " | "))
}

func (a *auth) oauthLogin(ctx context.Context) (session, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json;charset=UTF-8")
	headers.Set("Origin", a.baseURL)
	headers.Set("Referer", a.baseURL+"/")

	res, err := a.postLogin(ctx, "OAuth login", a.apiURL+"/oauth/token", headers, map[string]any{
		"username":   a.username,
		"password":   a.password,
		"grant_type": "password",
		"client_id":  oauthClientID,
	})
	if err != nil {
		return session{}, err
	}

	code := res["code"]
	if !codeOK(code, false) {
		msg, ok := res["msg"]
		if !ok {
			msg = "Unknown error"
		}
		e := newError(KindAPICode, nil, "OAuth login failed: %v (code=%v)", msg, code)
		e.Code = code
		return session{}, e
	}

	tok, ok := extractToken(res, oauthTokenRules)
	if !ok {
		return session{}, newError(KindAuth, nil, "OAuth login succeeded but no access_token")
	}
	data, _ := asObject(res["data"])
	expiresIn := float64(oauthDefaultExpiry)
	if v, ok := data["expires_in"]; ok {
		if f, ok := toFloat(v); ok {
			expiresIn = f
		}
	}
	return session{
		token:        tok,
		refreshToken: asString(data["refresh_token"]),
		expiry:       a.now().Add(time.Duration(expiresIn)*time.Second - oauthExpirySkew),
	}, nil
}

func (a *auth) legacyLogin(ctx context.Context) (session, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Content-Type", "application/json")

	res, err := a.postLogin(ctx, "Legacy login", a.legacyLoginURL, headers, map[string]any{
		"username": a.username,
		"password": a.password,
	})
	if err != nil {
		return session{}, err
	}
	tok, ok := extractToken(res, legacyTokenRules)
	if !ok {
		return session{}, newError(KindAuth, nil, "Legacy login succeeded but no token")
	}
	return session{
		token:  tok,
		expiry: a.now().Add(legacyTokenLifetime),
	}, nil
}

// postLogin posts body as JSON and decodes a JSON object response. label
// prefixes every error message.
func (a *auth) postLogin(ctx context.Context, label, endpoint string, headers http.Header, body any) (map[string]any, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header = headers

	resp, err := a.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindTimeout, err, "%s timeout", label)
		}
		return nil, newError(KindNetwork, err, "%s client error: %v", label, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindTimeout, err, "%s timeout", label)
		}
		return nil, newError(KindNetwork, err, "%s client error: %v", label, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "solark login response",
		slog.String("method", label),
		slog.Int("status", resp.StatusCode),
		slog.String("body", lo.Substring(string(text), 0, 1000)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := newError(KindHTTPStatus, nil, "%s HTTP %d: %s", label, resp.StatusCode, lo.Substring(string(text), 0, 500))
		e.StatusCode = resp.StatusCode
		return nil, e
	}

	var decoded any
	if err := json.Unmarshal(text, &decoded); err != nil {
		return nil, newError(KindInvalidJSON, err, "%s invalid JSON: %s", label, lo.Substring(string(text), 0, 200))
	}
	res, ok := asObject(decoded)
	if !ok {
		return nil, newError(KindInvalidJSON, nil, "%s response not JSON object", label)
	}
	return res, nil
}
