package accounts

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const emailVerificationPurpose = "email-verification"

// VerificationProof carries the fields of an email verification link
type VerificationProof struct {
	ID        string `json:"id" form:"id" query:"id"`
	Hash      string `json:"hash" form:"hash" query:"hash"`
	Expires   int64  `json:"expires" form:"expires" query:"expires"`
	Signature string `json:"signature" form:"signature" query:"signature"`
}

// Query renders the proof as URL values. The signature does not depend on
// how the values travel.
func (p VerificationProof) Query() url.Values {
	return url.Values{
		"id":        {p.ID},
		"hash":      {p.Hash},
		"expires":   {strconv.FormatInt(p.Expires, 10)},
		"signature": {p.Signature},
	}
}

// LinkSigner signs and checks email verification proofs.
//
// Canonical payload, fixed byte for byte:
//
//	email-verification\nexpires=<unix seconds>&hash=<hex sha1(email)>&id=<account id>
//
// signed with HMAC-SHA256 and rendered as lowercase hex.
type LinkSigner struct {
	key []byte
	ttl time.Duration
}

// NewLinkSigner creates a signer. ttl is the lifetime of issued proofs.
func NewLinkSigner(key []byte, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &LinkSigner{key: k, ttl: ttl}
}

// EmailFingerprint derives the per email verification fingerprint
func EmailFingerprint(email string) string {
	sum := sha1.Sum([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

// Sign creates a proof for the account's current email
func (s *LinkSigner) Sign(accountID, email string, now time.Time) VerificationProof {
	p := VerificationProof{
		ID:      accountID,
		Hash:    EmailFingerprint(email),
		Expires: now.Add(s.ttl).Unix(),
	}
	p.Signature = s.signature(p)
	return p
}

// Verify checks shape, signature and expiry, in that order. It does not look
// at the account, callers compare p.Hash with the current email.
func (s *LinkSigner) Verify(p VerificationProof, now time.Time) error {
	if p.ID == "" || p.Expires <= 0 || !isHex(p.Hash, sha1.Size) || !isHex(p.Signature, sha256.Size) {
		return ErrProofMalformed
	}

	expected := s.signature(p)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(p.Signature))) {
		return ErrProofSignatureMismatch
	}

	if now.Unix() > p.Expires {
		return ErrProofExpired
	}

	return nil
}

// MatchesEmail reports whether the proof was issued for email
func (p VerificationProof) MatchesEmail(email string) bool {
	return hmac.Equal([]byte(strings.ToLower(p.Hash)), []byte(EmailFingerprint(email)))
}

func (s *LinkSigner) signature(p VerificationProof) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonicalProofPayload(p))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalProofPayload(p VerificationProof) []byte {
	return []byte(fmt.Sprintf("%s\nexpires=%d&hash=%s&id=%s",
		emailVerificationPurpose,
		p.Expires,
		strings.ToLower(p.Hash),
		url.QueryEscape(p.ID),
	))
}

func isHex(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

const (
	resetSecretLength   = 64
	resetSecretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewResetSecret returns a random 64 character secret for password reset
// tickets. It is never derived from account data.
func NewResetSecret() (string, error) {
	max := big.NewInt(int64(len(resetSecretAlphabet)))
	b := make([]byte, resetSecretLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = resetSecretAlphabet[n.Int64()]
	}
	return string(b), nil
}
