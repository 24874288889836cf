package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/icholy/digest"

	"github.com/oktetlabs/test-environment-sub007/pkg/crypto"
)

// ErrBadChallenge is returned when a WWW-Authenticate header cannot be used.
var ErrBadChallenge = errors.New("unsupported authentication challenge")

// BasicAuthorization builds a Basic Authorization header value.
func BasicAuthorization(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// ClientAuthorization answers a WWW-Authenticate challenge received from a
// CPE when issuing a Connection Request. nc counts requests for this nonce.
func ClientAuthorization(challenge, method, uri, user, password string, nc int) (string, error) {
	cnonce, err := crypto.GenerateNonce(8)
	if err != nil {
		return "", err
	}
	return clientAuthorization(challenge, method, uri, user, password, nc, cnonce)
}

func clientAuthorization(challenge, method, uri, user, password string, nc int, cnonce string) (string, error) {
	scheme, _, _ := strings.Cut(strings.TrimSpace(challenge), " ")
	switch strings.ToLower(scheme) {
	case "basic":
		return BasicAuthorization(user, password), nil
	case "digest":
	default:
		return "", fmt.Errorf("%w: %q", ErrBadChallenge, scheme)
	}

	chal, err := digest.ParseChallenge(strings.TrimSpace(challenge))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChallenge, err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Count:    nc,
		Username: user,
		Password: password,
		Cnonce:   cnonce,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadChallenge, err)
	}
	return cred.String(), nil
}
