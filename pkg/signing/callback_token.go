package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Errors returned when a callback token cannot be trusted.
var (
	ErrMalformedToken   = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
	ErrRoomMismatch     = errors.New("token issued for another room")
)

// CallbackSigner issues and verifies the tokens embedded in end-of-meeting callback URLs.
type CallbackSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallbackSigner constructs a signer with the provided secret and TTL.
func NewCallbackSigner(secret string, ttl time.Duration) *CallbackSigner {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CallbackSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed token bound to the room id.
func (s *CallbackSigner) Generate(roomID int64) (string, time.Time, error) {
	if roomID <= 0 {
		return "", time.Time{}, fmt.Errorf("room id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	room := strconv.FormatInt(roomID, 10)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{room, ts, s.sign(room, ts)}, "."), expiresAt, nil
}

// Verify checks the token signature, expiry and that it was issued for roomID.
func (s *CallbackSigner) Verify(token string, roomID int64) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformedToken
	}
	room, ts, signature := parts[0], parts[1], parts[2]

	expected := s.sign(room, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMalformedToken
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return ErrTokenExpired
	}
	if room != strconv.FormatInt(roomID, 10) {
		return ErrRoomMismatch
	}
	return nil
}

func (s *CallbackSigner) sign(room, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(room + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
