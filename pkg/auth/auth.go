package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/errors"
)

// CookieName 令牌所在的 cookie 名
const CookieName = "token"

// 认证失败的具体原因，错误码均为 chat.ErrAuthenticationFailed
var (
	ErrMissingToken     = chat.ErrAuthenticationFailed.WithMessage("No authentication token")
	ErrInvalidToken     = chat.ErrAuthenticationFailed.WithMessage("Authentication failed")
	ErrTokenExpired     = chat.ErrAuthenticationFailed.WithMessage("Token has expired")
	ErrIdentityMismatch = chat.ErrAuthenticationFailed.WithMessage("User ID mismatch")
)

// Config 认证配置
type Config struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	TTL       time.Duration `mapstructure:"ttl"`        // 签发有效期，默认 7 天
	DevTokens bool          `mapstructure:"dev_tokens"` // 开启 /api/auth/token 签发接口
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
}

// Claims 令牌携带的身份
type Claims struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator 连接认证
type Authenticator struct {
	config Config
	now    func() time.Time
}

// New 创建认证器
func New(config Config) *Authenticator {
	config.setDefaults()
	return &Authenticator{config: config, now: time.Now}
}

// Issue 签发令牌
func (a *Authenticator) Issue(id, name string) (string, error) {
	now := a.now()
	claims := Claims{
		ID:   id,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.Secret))
}

// TTL 签发有效期
func (a *Authenticator) TTL() time.Duration {
	return a.config.TTL
}

// DevTokens 是否允许通过 HTTP 接口签发令牌
func (a *Authenticator) DevTokens() bool {
	return a.config.DevTokens
}

// Verify 校验令牌并与客户端声明的身份比对
//
// 显示名优先使用令牌中的 name，其次是握手时声明的 userName，最后退回 id。
func (a *Authenticator) Verify(token, claimedID, claimedName string) (chat.Identity, error) {
	claims, err := a.parse(token)
	if err != nil {
		return chat.Identity{}, err
	}
	if claims.ID != claimedID {
		return chat.Identity{}, ErrIdentityMismatch
	}

	name := claims.Name
	if name == "" {
		name = claimedName
	}
	if name == "" {
		name = claims.ID
	}
	return chat.Identity{ID: claims.ID, Name: name}, nil
}

// VerifyToken 只校验令牌本身，用于没有声明身份的 REST 请求
func (a *Authenticator) VerifyToken(token string) (chat.Identity, error) {
	claims, err := a.parse(token)
	if err != nil {
		return chat.Identity{}, err
	}
	name := claims.Name
	if name == "" {
		name = claims.ID
	}
	return chat.Identity{ID: claims.ID, Name: name}, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(a.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired.WithError(err)
		}
		return nil, ErrInvalidToken.WithError(err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate 从握手请求中提取令牌与声明身份并校验
func (a *Authenticator) Authenticate(r *http.Request) (chat.Identity, error) {
	return a.Verify(TokenFromRequest(r), claimed(r, "userId", "X-User-Id"), claimed(r, "userName", "X-User-Name"))
}

// TokenFromRequest 优先读取 cookie，其次 Authorization: Bearer
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func claimed(r *http.Request, query, header string) string {
	if v := r.URL.Query().Get(query); v != "" {
		return v
	}
	return r.Header.Get(header)
}
