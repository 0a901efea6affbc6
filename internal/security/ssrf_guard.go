// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はサイトURLの安全性検証と、防護付きHTTPクライアントの
// 生成を提供する。本アプリが外部へリクエストを送るのはfavicon取得だけで、
// 到達先はユーザーが入力したサイトURLに由来する。そのURLで内部ネットワークを
// 突かれないようにするのがこのサービスの役割。
type SSRFGuardService interface {
	// NewSafeClient は内部アドレスへの到達を遮断したHTTPクライアントを生成する。
	// 遮断はsafeurlがnet.DialerのControlフックで行うため、DNS解決後の
	// IPアドレスも検証される（DNS再バインディング対策）。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はサイトURLを取得前に静的検証する。
	// スキームとホスト表記だけで明らかに危険なURLを弾く。
	ValidateURL(rawURL string) error
}

// faviconPorts はfavicon取得で許可する接続先ポート。
// サイトURLは通常のWebサイトを指す前提のため、HTTP/HTTPSの標準ポートに限定する。
var faviconPorts = []int{80, 443}

// blockedPrefixes は到達を拒否するアドレス帯。
// ValidateURLでのIPリテラル検証に使用する。ホスト名経由のアクセスは
// NewSafeClientのDialer検証が解決後のアドレスで同等の判定を行う。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // プライベート (RFC 1918)
	netip.MustParsePrefix("172.16.0.0/12"),  // プライベート (RFC 1918)
	netip.MustParsePrefix("192.168.0.0/16"), // プライベート (RFC 1918)
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル (クラウドメタデータIP 169.254.169.254 を含む)
	netip.MustParsePrefix("0.0.0.0/8"),      // カレントネットワーク
	netip.MustParsePrefix("::1/128"),        // IPv6ループバック
	netip.MustParsePrefix("fe80::/10"),      // IPv6リンクローカル
	netip.MustParsePrefix("fc00::/7"),       // IPv6ユニークローカル
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// compile-time interface check
var _ SSRFGuardService = (*ssrfGuard)(nil)

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はfavicon取得用の防護付きHTTPクライアントを生成する。
// safeurlの設定により、プライベートIP・ループバック・リンクローカル・
// メタデータIPへの接続と、http/https以外のスキーム、標準ポート以外への
// 接続がブロックされる。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(faviconPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はサイトURLの登録時に行う静的検証。DNS解決は行わない。
// ここを通過してもfavicon取得はNewSafeClientのクライアント経由で行われる
// ため、ホスト名が内部アドレスへ解決されるケースはそちらが遮断する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("サイトURLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("サイトURLを解釈できません: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("許可されていないスキームです: %q (http/httpsのみ)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ホストが空です: %s", rawURL)
	}

	// IPリテラルはブロック対象帯と照合する
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("到達が禁止されたアドレスです: %s", addr)
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("到達が禁止されたホストです: %s", host)
	}

	return nil
}

// isBlockedAddr はアドレスがブロック対象帯に含まれるかを判定する。
// IPv4射影アドレス表記でのすり抜けを防ぐためUnmapしてから照合する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
