package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStreamTokenRoundTrip(t *testing.T) {
	token, err := IssueStreamToken("secret", "job-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ValidateStreamToken(token, "secret", "job-1")
	if err != nil {
		t.Fatalf("ValidateStreamToken: %v", err)
	}
	if claims.JobID != "job-1" {
		t.Errorf("JobID = %q", claims.JobID)
	}
}

func TestStreamTokenRejections(t *testing.T) {
	valid, _ := IssueStreamToken("secret", "job-1", time.Minute)
	expired, _ := IssueStreamToken("secret", "job-1", -time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, StreamClaims{JobID: "job-1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		token  string
		secret string
		jobID  string
	}{
		{"wrong secret", valid, "other", "job-1"},
		{"wrong job", valid, "secret", "job-2"},
		{"expired", expired, "secret", "job-1"},
		{"alg none", unsigned, "secret", "job-1"},
		{"garbage", "not.a.token", "secret", "job-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateStreamToken(tt.token, tt.secret, tt.jobID); err == nil {
				t.Fatal("expected rejection")
			}
		})
	}

	if _, err := ValidateStreamToken(valid, "secret", "job-2"); !errors.Is(err, ErrWrongJob) {
		t.Errorf("wrong job error = %v, want ErrWrongJob", err)
	}
}

func TestAPIKeyMatches(t *testing.T) {
	if !APIKeyMatches("k", "k") {
		t.Error("equal keys should match")
	}
	if APIKeyMatches("k", "K") || APIKeyMatches("", "") || APIKeyMatches("k", "") {
		t.Error("mismatched or empty keys matched")
	}
}
