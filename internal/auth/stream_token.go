// Package auth issues and checks the credentials accepted by the API.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const streamTokenIssuer = "video-downloader-api"

// ErrWrongJob is returned when a stream token was issued for another job.
var ErrWrongJob = errors.New("token not valid for this job")

// StreamClaims scope a token to a single job's live stream.
type StreamClaims struct {
	JobID string `json:"jobId"`
	jwt.RegisteredClaims
}

// IssueStreamToken signs an HMAC token that lets a client open the live
// stream of jobID without the shared API key.
func IssueStreamToken(secret, jobID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := StreamClaims{
		JobID: jobID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    streamTokenIssuer,
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateStreamToken checks the signature, expiry and job scope of a token.
func ValidateStreamToken(tokenString, secret, jobID string) (*StreamClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(streamTokenIssuer))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.JobID != jobID {
		return nil, ErrWrongJob
	}

	return claims, nil
}

// APIKeyMatches compares a presented key with the configured one in constant time.
func APIKeyMatches(presented, expected string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
