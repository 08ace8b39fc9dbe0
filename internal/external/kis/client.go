// Package kis implements the Korea Investment & Securities gateway: REST
// quotes/orders/balance plus the real-time tick stream. It is the only
// package that speaks the broker wire protocol.
package kis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/httputil"
	"github.com/wonny/kairos/pkg/logger"
	"github.com/wonny/kairos/pkg/ratelimit"
)

// tokenValidityMargin: 만료 5분 전부터는 무효로 간주하고 선제 갱신.
const tokenValidityMargin = 5 * time.Minute

// creds is one environment's credential set.
type creds struct {
	appKey    string
	appSecret string
	accountNo string
	baseURL   string
}

// tokenCache holds one environment's access token. The paper and live
// caches are independent: refreshing one never touches the other.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// isValid reports whether the cached token is usable at `now`.
func (t *tokenCache) isValid(now time.Time) bool {
	return t.token != "" && t.expiresAt.Sub(now) > tokenValidityMargin
}

// Client is the KIS API client. It implements contracts.Broker for the
// trading mode it was constructed with.
// ⭐ SSOT: KIS API 호출은 이 클라이언트에서만
type Client struct {
	mode       config.TradingMode
	cfg        config.KISConfig
	httpClient *httputil.Client
	limiter    *ratelimit.Limiter
	logger     *logger.Logger

	tokens map[config.TradingMode]*tokenCache
	now    func() time.Time
}

// NewClient creates a KIS client for the given trading mode. Every REST
// call acquires a limiter token before the HTTP request.
func NewClient(cfg config.KISConfig, mode config.TradingMode, httpClient *httputil.Client, limiter *ratelimit.Limiter, log *logger.Logger) *Client {
	return &Client{
		mode:       mode,
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     log.WithComponent("kis"),
		tokens: map[config.TradingMode]*tokenCache{
			config.ModeVTS:  {},
			config.ModeReal: {},
		},
		now: time.Now,
	}
}

// Mode returns the active trading mode.
func (c *Client) Mode() config.TradingMode {
	return c.mode
}

// credsFor returns the credential set for a mode.
func (c *Client) credsFor(mode config.TradingMode) creds {
	if mode == config.ModeReal {
		return creds{
			appKey:    c.cfg.AppKey,
			appSecret: c.cfg.AppSecret,
			accountNo: c.cfg.AccountNo,
			baseURL:   c.cfg.BaseURL,
		}
	}
	return creds{
		appKey:    c.cfg.VTSAppKey,
		appSecret: c.cfg.VTSAppSecret,
		accountNo: c.cfg.VTSAccountNo,
		baseURL:   c.cfg.VTSBaseURL,
	}
}

// tokenResponse is the OAuth answer.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // 명목상 24시간
}

// token returns a valid access token for a mode, refreshing when the
// cached one is within the validity margin. Check-then-refresh runs under
// the cache's own lock, so concurrent callers refresh at most once.
func (c *Client) token(ctx context.Context, mode config.TradingMode) (string, error) {
	cache := c.tokens[mode]
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cache.isValid(c.now()) {
		return cache.token, nil
	}

	cr := c.credsFor(mode)
	body := fmt.Sprintf(`{"grant_type":"client_credentials","appkey":"%s","appsecret":"%s"}`,
		cr.appKey, cr.appSecret)

	resp, err := c.httpClient.Post(ctx, cr.baseURL+"/oauth2/tokenP", "application/json", strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	var tr tokenResponse
	if err := httputil.ReadJSON(resp, &tr); err != nil {
		return "", fmt.Errorf("token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	cache.token = tr.AccessToken
	cache.expiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	c.logger.WithFields(map[string]interface{}{
		"mode":       string(mode),
		"expires_in": tr.ExpiresIn,
	}).Info("KIS access token refreshed")

	return cache.token, nil
}

// request makes an authenticated, rate-limited request to the KIS API for
// the active mode.
func (c *Client) request(ctx context.Context, method, path, trID string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	token, err := c.token(ctx, c.mode)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	cr := c.credsFor(c.mode)
	req, err := http.NewRequestWithContext(ctx, method, cr.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", cr.appKey)
	req.Header.Set("appsecret", cr.appSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	return c.httpClient.Do(req)
}

// apiResult is satisfied by every KIS response envelope.
type apiResult interface {
	result() (rtCd, msg string)
}

// readAPI decodes a KIS response and checks the rt_cd envelope code.
// rt_cd "0" means success; anything else carries msg1 as the reason.
func readAPI(resp *http.Response, dest apiResult) error {
	if err := httputil.ReadJSON(resp, dest); err != nil {
		return err
	}
	if rtCd, msg := dest.result(); rtCd != "0" {
		return fmt.Errorf("KIS error rt_cd=%s: %s", rtCd, msg)
	}
	return nil
}

// trID picks the mode-dependent transaction ID for order/balance calls.
func (c *Client) trID(real, virtual string) string {
	if c.mode == config.ModeReal {
		return real
	}
	return virtual
}
