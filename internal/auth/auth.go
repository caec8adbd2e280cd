// Package auth implements the HMAC-SHA256 challenge-response handshake
// agents use to prove possession of the shared TCP secret before the
// server admits them into the fleet registry.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Freshness windows the original implementation enforces: an agent
// rejects a challenge older than 30s, the server rejects a response
// whose own timestamp is older than 60s.
const (
	ChallengeMaxAgeSeconds = 30
	ResponseMaxAgeSeconds  = 60
)

// Challenge is the message the server sends to open a handshake.
type Challenge struct {
	Nonce     string
	Timestamp uint64
}

// Response is the message an agent sends back.
type Response struct {
	ClientID     string
	Nonce        string
	ResponseHash string
	Timestamp    uint64
}

// Authenticator computes and verifies HMAC-SHA256 proofs over a shared
// secret known to the server and every agent.
type Authenticator struct {
	secret []byte
}

// New returns an Authenticator bound to sharedSecret.
func New(sharedSecret string) *Authenticator {
	return &Authenticator{secret: []byte(sharedSecret)}
}

// GenerateChallenge mints a fresh nonce/timestamp pair. now is injected
// so callers can use an injectable clock instead of time.Now directly.
func GenerateChallenge(now uint64) Challenge {
	return Challenge{
		Nonce:     uuid.NewString(),
		Timestamp: now,
	}
}

// GenerateResponse computes the client's proof for a challenge. It
// rejects challenges older than ChallengeMaxAgeSeconds relative to now.
func (a *Authenticator) GenerateResponse(clientID string, challenge Challenge, now uint64) (Response, error) {
	if saturatingSub(now, challenge.Timestamp) > ChallengeMaxAgeSeconds {
		return Response{}, fmt.Errorf("auth: challenge timestamp too old")
	}
	hash, err := a.computeHMAC(clientID, challenge.Nonce, challenge.Timestamp)
	if err != nil {
		return Response{}, err
	}
	return Response{
		ClientID:     clientID,
		Nonce:        challenge.Nonce,
		ResponseHash: hash,
		Timestamp:    now,
	}, nil
}

// VerifyResponse checks resp against the original challenge the server
// issued (origNonce/origTimestamp), recomputing the HMAC from the
// original values rather than anything embedded in resp itself. now is
// used only for the response's own freshness check.
func (a *Authenticator) VerifyResponse(resp Response, origNonce string, origTimestamp uint64, now uint64) (bool, error) {
	if resp.Nonce != origNonce {
		return false, nil
	}
	if saturatingSub(now, resp.Timestamp) > ResponseMaxAgeSeconds {
		return false, nil
	}
	expected, err := a.computeHMAC(resp.ClientID, origNonce, origTimestamp)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(resp.ResponseHash)), nil
}

func (a *Authenticator) computeHMAC(clientID, nonce string, timestamp uint64) (string, error) {
	data := fmt.Sprintf("%s%s%d", clientID, nonce, timestamp)
	mac := hmac.New(sha256.New, a.secret)
	if _, err := mac.Write([]byte(data)); err != nil {
		return "", fmt.Errorf("auth: compute hmac: %w", err)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// saturatingSub mirrors the original implementation's u64 saturating
// subtraction: it never goes negative when clocks are skewed such that
// b > a.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
