package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"stockbridge/internal/config"
	"stockbridge/internal/dto/req"
	"stockbridge/internal/dto/resp"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RedisKeyPrefix = "stockbridge:auth:session:"
	Issuer         = "stockbridge"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService issues operator tokens for the admin surface. Refresh
// tokens are allow-listed in redis, one per operator.
type AuthService struct {
	redis           *redis.Client
	secret          []byte
	operators       []config.OperatorAccount
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewAuthService(rdb *redis.Client, cfg config.AuthConfig) *AuthService {
	return &AuthService{
		redis:           rdb,
		secret:          []byte(cfg.JWTSecret),
		operators:       cfg.Operators,
		accessTokenTTL:  cfg.AccessTTL,
		refreshTokenTTL: cfg.RefreshTTL,
	}
}

// ParseToken validates an access or refresh token.
func (s *AuthService) ParseToken(token string) (*UserClaims, error) {
	return ParseToken(s.secret, token)
}

func ParseToken(secret []byte, token string) (*UserClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*UserClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) Login(ctx context.Context, body req.LoginReq) (*resp.TokenResp, error) {
	account, ok := s.findOperator(body.Username, body.Password)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokens(ctx, account.Username, account.Username, account.Role)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{ID: account.Username, Username: account.Username, Role: account.Role}
	return tokens, nil
}

func (s *AuthService) findOperator(username, password string) (config.OperatorAccount, bool) {
	for _, op := range s.operators {
		if op.Username == username && subtle.ConstantTimeCompare([]byte(op.Password), []byte(password)) == 1 {
			if op.Role == "" {
				op.Role = "operator"
			}
			return op, true
		}
	}
	return config.OperatorAccount{}, false
}

// Refresh rotates the token pair. Only the latest refresh token of an
// operator is accepted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.redis.Get(ctx, RedisKeyPrefix+claims.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if stored != refreshToken {
		return nil, ErrTokenInvalid
	}
	return s.generateTokens(ctx, claims.UserID, claims.Username, claims.Role)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.redis.Del(ctx, RedisKeyPrefix+userID).Err()
}

func (s *AuthService) generateTokens(ctx context.Context, userID, username, role string) (*resp.TokenResp, error) {
	now := time.Now()
	claims := func(ttl time.Duration, id string) UserClaims {
		return UserClaims{
			UserID:   userID,
			Username: username,
			Role:     role,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				Issuer:    Issuer,
				ID:        id,
			},
		}
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(s.accessTokenTTL, "")).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(s.refreshTokenTTL, uuid.NewString())).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	if err := s.redis.Set(ctx, RedisKeyPrefix+userID, refreshToken, s.refreshTokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenTTL.Seconds()),
	}, nil
}
