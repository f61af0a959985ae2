package backendfake

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Epoch int `json:"epoch"`
}

type issued struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// issueLocked mints an access token and a single-use refresh token for userID.
// Callers hold s.lock.
func (s *Server) issueLocked(userID string) (issued, error) {
	now := s.nowTime()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
		Epoch: s.epoch,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return issued{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := uuid.NewString()
	s.refreshTokens[refresh] = userID
	return issued{
		AccessToken:  signed,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// authenticate returns the user id behind a bearer token.
func (s *Server) authenticate(raw string) (string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.nowTime),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	if claims.Epoch != s.epoch {
		return "", fmt.Errorf("token from an expired epoch")
	}
	return claims.Subject, nil
}
