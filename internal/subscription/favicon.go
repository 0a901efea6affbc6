// Package subscription はサブスクリプション管理のドメインロジックを提供する。
package subscription

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxFaviconSize はfaviconの最大サイズ（2MB）。
const maxFaviconSize = 2 * 1024 * 1024

// maxHTMLSize はアイコン探索で読み込むHTMLの最大サイズ（512KB）。
// linkタグはheadにあるため先頭部分で十分。
const maxHTMLSize = 512 * 1024

// faviconTimeout はfavicon取得のタイムアウト。
const faviconTimeout = 5 * time.Second

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FaviconFetcherService はサービスサイトのfavicon取得のインターフェース。
type FaviconFetcherService interface {
	// FetchFaviconForSite はサイトURLからfaviconを検出して取得する。
	// サイトHTMLのlinkタグから探索し、見つからなければ /favicon.ico を試行する。
	// 取得失敗時はnilデータと空MIMEを返す
	// （faviconはあくまで装飾であり、取得失敗はエラーにしない）。
	FetchFaviconForSite(ctx context.Context, siteURL string) (data []byte, mimeType string, err error)
}

// FaviconFetcher はfavicon取得機能の実装。
type FaviconFetcher struct {
	ssrfGuard SSRFValidator
}

// NewFaviconFetcher はFaviconFetcherの新しいインスタンスを生成する。
func NewFaviconFetcher(ssrfGuard SSRFValidator) *FaviconFetcher {
	return &FaviconFetcher{
		ssrfGuard: ssrfGuard,
	}
}

// FetchFaviconForSite はサイトURLからfaviconを検出して取得する。
// サイトHTMLのlink rel="icon" を優先し、見つからない・取得できない場合は
// /favicon.ico にフォールバックする。
func (f *FaviconFetcher) FetchFaviconForSite(ctx context.Context, siteURL string) ([]byte, string, error) {
	if siteURL == "" {
		return nil, "", nil
	}

	// HTMLのlinkタグからアイコンURLを探索
	for _, iconURL := range f.discoverIconURLs(ctx, siteURL) {
		data, mimeType, err := f.fetch(ctx, iconURL)
		if err == nil && data != nil {
			return data, mimeType, nil
		}
	}

	// フォールバック: /favicon.ico
	faviconURL := guessDefaultFaviconURL(siteURL)
	if faviconURL == "" {
		return nil, "", nil
	}
	return f.fetch(ctx, faviconURL)
}

// discoverIconURLs はサイトHTMLを取得し、linkタグからアイコン候補URLを抽出する。
// HTMLが取得できない場合は空のスライスを返す。
func (f *FaviconFetcher) discoverIconURLs(ctx context.Context, siteURL string) []string {
	if f.ssrfGuard != nil {
		if err := f.ssrfGuard.ValidateURL(siteURL); err != nil {
			slog.Warn("favicon探索: SSRFブロック", "url", siteURL, "error", err)
			return nil
		}
	}

	client := f.getHTTPClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, siteURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "Subtrack/1.0 Subscription Tracker")
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("favicon探索: HTMLの取得失敗", "url", siteURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLSize))
	if err != nil {
		return nil
	}

	return ParseIconLinksFromHTML(body, siteURL)
}

// iconRels はアイコンとして認識するlink relのリスト（優先順）。
var iconRels = []string{"icon", "shortcut icon", "apple-touch-icon"}

// ParseIconLinksFromHTML はHTMLのheadタグからアイコンリンクを解析・検出する。
// rel属性の優先順にソートした候補URLを返す。相対URLはbaseURLを基準に
// 絶対URLに解決される。
func ParseIconLinksFromHTML(htmlBody []byte, baseURL string) []string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	// rel種別ごとに収集し、最後に優先順で平坦化する
	found := make(map[string][]string)

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

loop:
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}

			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				break loop
			}

			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			// link要素の属性を解析
			var rel, href string
			for {
				key, val, more := tokenizer.TagAttr()
				k := strings.ToLower(string(key))
				v := string(val)
				switch k {
				case "rel":
					rel = strings.ToLower(v)
				case "href":
					href = v
				}
				if !more {
					break
				}
			}

			if href == "" || !isIconRel(rel) {
				continue
			}

			resolved := resolveURL(baseU, href)
			if resolved == "" {
				continue
			}
			found[rel] = append(found[rel], resolved)

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				break loop
			}
		}
	}

	var urls []string
	for _, rel := range iconRels {
		urls = append(urls, found[rel]...)
	}
	return urls
}

// isIconRel はrel属性がアイコンリンクかどうかを判定する。
func isIconRel(rel string) bool {
	for _, r := range iconRels {
		if rel == r {
			return true
		}
	}
	return false
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// fetch は指定URLからfaviconを取得する。取得失敗時はnilデータと空MIMEを返す。
func (f *FaviconFetcher) fetch(ctx context.Context, faviconURL string) ([]byte, string, error) {
	// SSRF検証
	if f.ssrfGuard != nil {
		if err := f.ssrfGuard.ValidateURL(faviconURL); err != nil {
			slog.Warn("favicon取得: SSRFブロック", "url", faviconURL, "error", err)
			return nil, "", nil
		}
	}

	client := f.getHTTPClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, faviconURL, nil)
	if err != nil {
		slog.Warn("favicon取得: リクエスト作成失敗", "url", faviconURL, "error", err)
		return nil, "", nil
	}
	req.Header.Set("User-Agent", "Subtrack/1.0 Subscription Tracker")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("favicon取得: HTTPリクエスト失敗", "url", faviconURL, "error", err)
		return nil, "", nil
	}
	defer resp.Body.Close()

	// 2xx以外はfavicon取得失敗として扱う
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("favicon取得: HTTPステータス異常", "url", faviconURL, "status", resp.StatusCode)
		return nil, "", nil
	}

	// レスポンスボディを読み込み（最大2MB）
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFaviconSize+1))
	if err != nil {
		slog.Warn("favicon取得: レスポンス読み取り失敗", "url", faviconURL, "error", err)
		return nil, "", nil
	}

	if int64(len(body)) > maxFaviconSize {
		slog.Warn("favicon取得: サイズ超過", "url", faviconURL, "size", len(body))
		return nil, "", nil
	}

	mimeType := extractMimeType(resp.Header.Get("Content-Type"))
	if !isImageMime(mimeType) {
		slog.Warn("favicon取得: 画像以外のContent-Type", "url", faviconURL, "contentType", mimeType)
		return nil, "", nil
	}

	return body, mimeType, nil
}

// getHTTPClient はHTTPクライアントを取得する。
func (f *FaviconFetcher) getHTTPClient() *http.Client {
	if f.ssrfGuard != nil {
		return f.ssrfGuard.NewSafeClient(faviconTimeout, maxFaviconSize)
	}
	return &http.Client{Timeout: faviconTimeout}
}

// guessDefaultFaviconURL はサイトURLからデフォルトのfavicon URLを推測する。
func guessDefaultFaviconURL(siteURL string) string {
	if siteURL == "" {
		return ""
	}

	u, err := url.Parse(siteURL)
	if err != nil {
		return ""
	}

	u.Path = "/favicon.ico"
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// isImageMime はMIMEタイプが画像かどうかを判定する。
func isImageMime(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	return strings.HasPrefix(mimeType, "image/")
}

// compile-time interface check
var _ FaviconFetcherService = (*FaviconFetcher)(nil)
