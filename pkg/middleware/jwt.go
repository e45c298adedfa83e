package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenIssuer は GenerateJWT が発行するトークンの発行者名。
const TokenIssuer = "fitgate"

// contextKeyIdentity はGinコンテキストに認証済みの Identity を格納するキー。
const contextKeyIdentity = "identity"

var (
	// ErrMissingToken はAuthorizationヘッダーが存在しない、または空であることを表す。
	ErrMissingToken = errors.New("認証トークンがありません")
	// ErrInvalidToken はトークンが存在するが検証に失敗したことを表す。
	ErrInvalidToken = errors.New("認証トークンが無効です")
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 利用者の識別子は標準の sub クレームに格納する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Email は利用者のメールアドレス。任意項目。
	Email string `json:"email,omitempty"`
}

// Identity は検証済みトークンから得た利用者の情報。
type Identity struct {
	// Subject はトークンの sub クレーム。
	Subject string
	// VerifiedAt はトークンを検証した時刻。
	VerifiedAt time.Time
}

// AuthMode は認証に失敗したリクエストの扱い。
type AuthMode string

const (
	// AuthRequired は認証に失敗したリクエストを401で拒否する。
	AuthRequired AuthMode = "required"
	// AuthOptional は認証に失敗したリクエストを匿名として通過させる。
	AuthOptional AuthMode = "optional"
)

// ParseAuthMode は文字列を AuthMode に変換する。
func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AuthRequired, AuthOptional:
		return m, nil
	default:
		return "", fmt.Errorf("不明な認証モードです: %q", s)
	}
}

// TokenAuthenticator はHS256で署名されたBearerトークンを検証する。
type TokenAuthenticator struct {
	// secret は署名検証用の秘密鍵。起動時に一度だけ設定する。
	secret []byte
	// parser は署名アルゴリズムと有効期限の検証を行うパーサー。
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenAuthenticator は新しい TokenAuthenticator を生成する。
func NewTokenAuthenticator(secret string) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("JWT署名用の秘密鍵が空です")
	}
	return &TokenAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}, nil
}

// Authenticate はAuthorizationヘッダーの値を検証し、Identity を返す。
//
// ヘッダーが空の場合は ErrMissingToken を、トークンの形式・署名・有効期限の
// いずれかが不正な場合は ErrInvalidToken を返す。"Bearer " 接頭辞は任意。
func (a *TokenAuthenticator) Authenticate(headerValue string) (Identity, error) {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || strings.EqualFold(headerValue, "Bearer") {
		return Identity{}, ErrMissingToken
	}

	tokenString := headerValue
	if scheme, rest, found := strings.Cut(headerValue, " "); found && strings.EqualFold(scheme, "Bearer") {
		tokenString = strings.TrimSpace(rest)
	}

	claims := &JWTClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: subが空です", ErrInvalidToken)
	}

	return Identity{Subject: claims.Subject, VerifiedAt: a.now()}, nil
}

// GenerateJWT は subject を sub クレームに持つHS256トークンを生成する。
// 動作確認用のトークン発行コマンドから呼び出す。
func GenerateJWT(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT署名用の秘密鍵が空です")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("有効期限は正の値である必要があります: %s", ttl)
	}

	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    TokenIssuer,
		},
	}
	if strings.Contains(subject, "@") {
		claims.Email = subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
//
// 検証に成功した場合、コンテキストに Identity を設定する。
// 失敗した場合、mode が AuthRequired なら401で中断し、
// AuthOptional なら理由をログに記録して匿名のまま後続に渡す。
func JWTAuth(auth *TokenAuthenticator, mode AuthMode, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		identity, err := auth.Authenticate(c.GetHeader("Authorization"))
		if err == nil {
			c.Set(contextKeyIdentity, identity)
			c.Next()
			return
		}

		fields := []zap.Field{
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err),
		}
		if mode == AuthOptional {
			if !errors.Is(err, ErrMissingToken) {
				logger.Warn("トークン検証に失敗したため匿名として処理", fields...)
			}
			c.Next()
			return
		}

		logger.Info("認証に失敗したリクエストを拒否", fields...)
		AbortWithError(c, http.StatusUnauthorized, "Unauthorized")
	}
}

// GetIdentity はGinコンテキストから認証済みの Identity を取得する。
// 匿名のリクエストでは ok が false になる。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(contextKeyIdentity)
	if !exists {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

// GetSubject はGinコンテキストから利用者の識別子を取得する。
// 匿名のリクエストでは空文字列を返す。
func GetSubject(c *gin.Context) string {
	identity, _ := GetIdentity(c)
	return identity.Subject
}
