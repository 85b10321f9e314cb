package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
)

var errInvalidSession = errors.New("invalid session")

// SessionResolver turns a session token into the user it was issued to.
type SessionResolver interface {
	Resolve(token string) (*types.User, error)
}

// SignedTokenResolver accepts tokens produced by IssueToken with the same key.
type SignedTokenResolver struct {
	secretKey []byte
}

func NewSignedTokenResolver(secretKey string) *SignedTokenResolver {
	return &SignedTokenResolver{secretKey: []byte(secretKey)}
}

// IssueToken encodes user and signs it. The token carries the user's
// permissions, so it must be reissued when they change.
func IssueToken(user types.User, secretKey string) (string, error) {
	payload, err := json.Marshal(user)
	if err != nil {
		return "", errors.Wrap(err, "encode session user")
	}
	signature := sign(payload, []byte(secretKey))
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (s *SignedTokenResolver) Resolve(token string) (*types.User, error) {
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errInvalidSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, errInvalidSession
	}
	signature, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, errInvalidSession
	}
	if !hmac.Equal(signature, sign(payload, s.secretKey)) {
		return nil, errInvalidSession
	}

	var user types.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, errInvalidSession
	}
	if user.Name == "" {
		return nil, errInvalidSession
	}
	return &user, nil
}

func sign(payload, secretKey []byte) []byte {
	mac := hmac.New(sha256.New, secretKey)
	mac.Write(payload)
	return mac.Sum(nil)
}
