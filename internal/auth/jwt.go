package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenRevoked 令牌已被吊销
	ErrTokenRevoked = errors.New("auth: token revoked")
	// ErrInvalidToken 令牌无效
	ErrInvalidToken = errors.New("auth: invalid token")
)

// JWTService 校验后台签发的访问令牌，只负责识别操作者，不负责登录
type JWTService struct {
	secretKey   []byte
	issuer      string
	expiry      time.Duration
	redisClient redis.UniversalClient // 可选，用于吊销名单
}

// NewJWTService 创建 JWT 服务
func NewJWTService(secretKey, issuer string, redisClient redis.UniversalClient) *JWTService {
	return &JWTService{
		secretKey:   []byte(secretKey),
		issuer:      issuer,
		expiry:      2 * time.Hour,
		redisClient: redisClient,
	}
}

// TokenClaims JWT 声明
type TokenClaims struct {
	UserID         string   `json:"uid"`
	OrganizationID string   `json:"oid,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Actor 从声明构造操作者
func (c *TokenClaims) Actor() *Actor {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return &Actor{ID: id, OrganizationID: c.OrganizationID, Roles: c.Roles}
}

// IssueToken 签发访问令牌（运维工具与测试使用）
func (s *JWTService) IssueToken(actor Actor) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		UserID:         actor.ID,
		OrganizationID: actor.OrganizationID,
		Roles:          actor.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证并解析 JWT 令牌
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	if s.IsTokenRevoked(ctx, tokenString) {
		return nil, ErrTokenRevoked
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" && claims.Subject == "" {
		return nil, fmt.Errorf("%w: 缺少 uid/sub", ErrInvalidToken)
	}
	return claims, nil
}

// RevokeToken 将令牌加入吊销名单直到其自然过期
func (s *JWTService) RevokeToken(ctx context.Context, tokenString string) error {
	if s.redisClient == nil {
		return nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return fmt.Errorf("解析令牌失败: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || claims.ExpiresAt == nil {
		return ErrInvalidToken
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redisClient.Set(ctx, revokedKey(tokenString), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入吊销名单失败: %w", err)
	}
	return nil
}

// IsTokenRevoked 检查吊销名单，Redis 故障时放行
func (s *JWTService) IsTokenRevoked(ctx context.Context, tokenString string) bool {
	if s.redisClient == nil {
		return false
	}
	exists, err := s.redisClient.Exists(ctx, revokedKey(tokenString)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

func revokedKey(token string) string {
	return "feedbackhub:revoked:" + token
}

// ExtractTokenFromBearer 从 Bearer 令牌中提取纯令牌字符串
func ExtractTokenFromBearer(bearerToken string) string {
	const prefix = "Bearer "
	if len(bearerToken) > len(prefix) && strings.EqualFold(bearerToken[:len(prefix)], prefix) {
		return strings.TrimSpace(bearerToken[len(prefix):])
	}
	return strings.TrimSpace(bearerToken)
}
