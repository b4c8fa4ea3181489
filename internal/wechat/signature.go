package wechat

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signature computes the official account callback signature: SHA1 over the
// lexicographically sorted concatenation of token, timestamp and nonce.
func Signature(token, timestamp, nonce string) string {
	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a claimed signature in constant time.
func VerifySignature(token, timestamp, nonce, signature string) bool {
	want := Signature(token, timestamp, nonce)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(signature))) == 1
}

// FreshTimestamp rejects signed requests whose timestamp drifts more than
// maxSkew from now, which blunts replay of captured callbacks.
func FreshTimestamp(timestamp string, now time.Time, maxSkew time.Duration) bool {
	sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}
	diff := now.Sub(time.Unix(sec, 0))
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxSkew
}
