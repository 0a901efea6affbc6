package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"

// expirySkew はトークン失効判定の安全マージン。
// 残り寿命がこれを下回るトークンは失効扱いにする。
const expirySkew = 30 * time.Second

// GoogleTokenConfig はGoogleトークンプロバイダーの設定。
type GoogleTokenConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// テスト用にオーバーライド可能なURL
	TokenURL string
}

// GoogleTokenProvider はリフレッシュトークングラントによる
// アクセストークンの取得とメモリ内キャッシュを提供する。
type GoogleTokenProvider struct {
	config GoogleTokenConfig

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewGoogleTokenProvider はGoogleTokenProviderを生成する。
func NewGoogleTokenProvider(config GoogleTokenConfig) *GoogleTokenProvider {
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	return &GoogleTokenProvider{config: config}
}

// googleTokenResponse はトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Acquire はアクセストークンを返す。
// 有効なキャッシュがあればそれを返す。interactive=falseではキャッシュミス時に
// ネットワークへ出ずに失敗し、interactive=trueではリフレッシュグラントで再取得する。
func (p *GoogleTokenProvider) Acquire(ctx context.Context, interactive bool) (string, error) {
	p.mu.Lock()
	if p.token != "" && time.Now().Add(expirySkew).Before(p.expiresAt) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	if !interactive {
		return "", fmt.Errorf("有効なキャッシュ済みトークンがありません")
	}

	tokenResp, err := p.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("トークンの再取得に失敗しました: %w", err)
	}

	p.mu.Lock()
	p.token = tokenResp.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	p.mu.Unlock()

	return tokenResp.AccessToken, nil
}

// Invalidate は指定トークンのキャッシュを破棄する。
// 既に別のトークンがキャッシュされている場合は何もしない。
func (p *GoogleTokenProvider) Invalidate(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == token {
		p.token = ""
		p.expiresAt = time.Time{}
	}
	return nil
}

// refresh はリフレッシュトークングラントでアクセストークンを取得する。
func (p *GoogleTokenProvider) refresh(ctx context.Context) (*googleTokenResponse, error) {
	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"refresh_token": {p.config.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("トークンリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("トークン取得がステータス %d で失敗しました: %s", resp.StatusCode, string(body))
	}

	var tokenResp googleTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("レスポンスにアクセストークンが含まれていません")
	}

	return &tokenResp, nil
}

// compile-time interface check
var _ TokenProvider = (*GoogleTokenProvider)(nil)
