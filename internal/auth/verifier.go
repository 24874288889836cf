// Package auth verifies CPE credentials presented to the ACS, answers
// CPE challenges for Connection Requests and issues admin API tokens.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	httpauth "github.com/abbot/go-http-auth"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/pkg/crypto"
)

// Realm is the fixed authentication realm.
const Realm = "tr-069"

// Result of one verification step.
type Result int

const (
	Accepted Result = iota
	Rejected
	ChallengeSent
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case ChallengeSent:
		return "challenge"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Conversation is the per-connection authentication state: the nonce issued
// by the last digest challenge on this connection.
type Conversation struct {
	Nonce string
}

// Outcome of Verify. Challenge holds the WWW-Authenticate value to send
// with a 401 when Result is ChallengeSent.
type Outcome struct {
	Result    Result
	Cpe       *models.Cpe
	Challenge string
}

// acsAuth holds the authenticators of one ACS. The digest authenticator
// remembers the nonces it issued and their nonce counts.
type acsAuth struct {
	basic  *httpauth.BasicAuth
	digest *httpauth.DigestAuth
}

// Verifier checks credentials against the CPEs of an ACS. It is used from
// the loop goroutine only.
type Verifier struct {
	realm string
	acs   map[*models.Acs]*acsAuth
}

func NewVerifier() *Verifier {
	return &Verifier{realm: Realm, acs: make(map[*models.Acs]*acsAuth)}
}

// Forget drops the authenticators of acs and the nonces they issued.
func (v *Verifier) Forget(acs *models.Acs) {
	delete(v.acs, acs)
}

func (v *Verifier) authenticators(acs *models.Acs) *acsAuth {
	if a, ok := v.acs[acs]; ok {
		return a
	}
	a := &acsAuth{
		basic: httpauth.NewBasicAuthenticator(v.realm, func(user, _ string) string {
			if c := findByLogin(acs, user); c != nil {
				return crypto.SHA1Secret(c.AcsAuth.Password)
			}
			return ""
		}),
		digest: httpauth.NewDigestAuthenticator(v.realm, func(user, _ string) string {
			if c := findByLogin(acs, user); c != nil {
				return c.AcsAuth.Password
			}
			return ""
		}),
	}
	a.digest.PlainTextSecrets = true
	v.acs[acs] = a
	return a
}

// Verify runs one step of the authentication conversation. state is the
// session state before the request; the caller moves LISTEN to WAIT_AUTH
// when a challenge is returned.
func (v *Verifier) Verify(req *http.Request, acs *models.Acs, state models.SessionState, conv *Conversation) (Outcome, error) {
	if acs.AuthMode == models.AuthNone {
		if len(acs.Cpes) == 0 {
			return Outcome{Result: Rejected}, fmt.Errorf("acs %s: %w", acs.Name, models.ErrNoCpeConfigured)
		}
		return Outcome{Result: Accepted, Cpe: acs.Cpes[0]}, nil
	}

	switch state {
	case models.SessionListen:
		return v.challenge(req, acs, conv), nil
	case models.SessionWaitAuth:
	default:
		return Outcome{Result: Rejected}, fmt.Errorf("authentication in state %s", state)
	}

	header := req.Header.Get("Authorization")
	if header == "" {
		return v.challenge(req, acs, conv), nil
	}

	scheme, _, _ := strings.Cut(strings.TrimSpace(header), " ")
	var (
		user   string
		params map[string]string
	)
	switch {
	case acs.AuthMode == models.AuthBasic && scheme == "Basic":
		u, _, ok := req.BasicAuth()
		if !ok {
			log.Debug().Str("acs", acs.Name).Msg("unusable basic credentials")
			return v.challenge(req, acs, conv), nil
		}
		user = u
	case acs.AuthMode == models.AuthDigest && scheme == "Digest":
		params = httpauth.DigestAuthParams(header)
		if params == nil {
			log.Debug().Str("acs", acs.Name).Msg("unusable digest credentials")
			return v.challenge(req, acs, conv), nil
		}
		user = params["username"]
	default:
		log.Debug().Str("acs", acs.Name).Str("scheme", scheme).Msg("unexpected authorization scheme")
		return v.challenge(req, acs, conv), nil
	}
	if user == "" {
		return Outcome{Result: Rejected}, fmt.Errorf("acs %s: authorization without userid", acs.Name)
	}

	cpe := findByLogin(acs, user)
	if cpe == nil {
		log.Debug().Str("acs", acs.Name).Str("user", user).Msg("unknown login")
		return v.challenge(req, acs, conv), nil
	}

	a := v.authenticators(acs)
	ok := false
	if params != nil {
		// Only the nonce of this connection's last challenge is valid.
		if params["realm"] == v.realm && conv.Nonce != "" && params["nonce"] == conv.Nonce {
			u, _ := a.digest.CheckAuth(req)
			ok = u == user
		}
	} else {
		ok = a.basic.CheckAuth(req) == user
	}
	if !ok {
		log.Debug().Str("cpe", cpe.FullName()).Str("scheme", scheme).Msg("credentials mismatch")
		return v.challenge(req, acs, conv), nil
	}
	return Outcome{Result: Accepted, Cpe: cpe}, nil
}

func (v *Verifier) challenge(req *http.Request, acs *models.Acs, conv *Conversation) Outcome {
	a := v.authenticators(acs)
	w := &challengeWriter{header: make(http.Header)}
	if acs.AuthMode == models.AuthBasic {
		a.basic.RequireAuth(w, req)
	} else {
		a.digest.RequireAuth(w, req)
	}
	challenge := w.header.Get("WWW-Authenticate")
	if acs.AuthMode == models.AuthDigest {
		conv.Nonce = httpauth.DigestAuthParams(challenge)["nonce"]
	}
	return Outcome{Result: ChallengeSent, Challenge: challenge}
}

// challengeWriter keeps the headers of the 401 an authenticator writes; the
// session sends its own response.
type challengeWriter struct {
	header http.Header
}

func (w *challengeWriter) Header() http.Header         { return w.header }
func (w *challengeWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *challengeWriter) WriteHeader(int)             {}

func findByLogin(acs *models.Acs, login string) *models.Cpe {
	for _, c := range acs.Cpes {
		if c.AcsAuth.Login == login {
			return c
		}
	}
	return nil
}
