package models

import (
	"fmt"
	"strconv"
	"strings"
)

// AuthMode selects how CPEs authenticate to an ACS.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBasic
	AuthDigest
)

func (m AuthMode) String() string {
	switch m {
	case AuthNone:
		return "noauth"
	case AuthBasic:
		return "basic"
	case AuthDigest:
		return "digest"
	}
	return fmt.Sprintf("auth(%d)", int(m))
}

// ParseAuthMode accepts "noauth", "none", "basic" and "digest".
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "noauth", "none":
		return AuthNone, nil
	case "basic":
		return AuthBasic, nil
	case "digest":
		return AuthDigest, nil
	}
	return AuthNone, fmt.Errorf("auth mode %q: %w", s, ErrInvalid)
}

// MaxLocationLen bounds the Location of an HTTP response override.
const MaxLocationLen = 250

// HTTPResponse is a one-shot reply sent instead of processing the next Inform.
type HTTPResponse struct {
	Code     int    `json:"code"`
	Location string `json:"location,omitempty"`
}

func (r *HTTPResponse) String() string {
	if r == nil {
		return ""
	}
	if r.Location == "" {
		return strconv.Itoa(r.Code)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Location)
}

// ParseHTTPResponse parses "code [location]". An empty string yields nil.
func ParseHTTPResponse(s string) (*HTTPResponse, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	code, loc, _ := strings.Cut(s, " ")
	return NewHTTPResponse(code, strings.TrimSpace(loc))
}

// NewHTTPResponse validates a status code and location pair.
func NewHTTPResponse(code string, location string) (*HTTPResponse, error) {
	c, err := strconv.Atoi(code)
	if err != nil || c < 100 || c > 599 {
		return nil, fmt.Errorf("http response code %q: %w", code, ErrInvalid)
	}
	if len(location) > MaxLocationLen {
		return nil, fmt.Errorf("location longer than %d bytes: %w", MaxLocationLen, ErrInvalid)
	}
	return &HTTPResponse{Code: c, Location: location}, nil
}

// Acs is one emulated ACS instance.
type Acs struct {
	Name       string
	Port       int
	URL        string
	SSL        bool
	Cert       string
	AuthMode   AuthMode
	HTTPRoot   string
	TrafficLog bool
	Enabled    bool

	HTTPResponse *HTTPResponse

	Cpes []*Cpe

	// Sessions accepted on this ACS but not yet bound to a Cpe.
	Sessions map[SessionID]SessionHandle

	// Listening is set while a listener owns Port.
	Listening bool
}

// NewAcs returns an ACS with defaults applied.
func NewAcs(name string) *Acs {
	return &Acs{
		Name:     name,
		AuthMode: AuthDigest,
		Sessions: make(map[SessionID]SessionHandle),
	}
}

// Cpe finds a CPE by name.
func (a *Acs) Cpe(name string) (*Cpe, error) {
	for _, c := range a.Cpes {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("cpe %s/%s: %w", a.Name, name, ErrNoSuchCpe)
}

// AddCpe creates a CPE; names are unique within the ACS.
func (a *Acs) AddCpe(name string) (*Cpe, error) {
	if name == "" {
		return nil, fmt.Errorf("empty cpe name: %w", ErrInvalid)
	}
	if _, err := a.Cpe(name); err == nil {
		return nil, fmt.Errorf("cpe %s/%s exists: %w", a.Name, name, ErrConfigConflict)
	}
	c := NewCpe(a, name)
	a.Cpes = append(a.Cpes, c)
	return c, nil
}

// RemoveCpe drops a CPE and frees its queues.
func (a *Acs) RemoveCpe(name string) error {
	for i, c := range a.Cpes {
		if c.Name != name {
			continue
		}
		c.Reset()
		a.Cpes = append(a.Cpes[:i], a.Cpes[i+1:]...)
		return nil
	}
	return fmt.Errorf("cpe %s/%s: %w", a.Name, name, ErrNoSuchCpe)
}

// TakeHTTPResponse returns and clears the override that applies to c, the
// CPE's own one first.
func (a *Acs) TakeHTTPResponse(c *Cpe) *HTTPResponse {
	if c != nil && c.HTTPResponse != nil {
		r := c.HTTPResponse
		c.HTTPResponse = nil
		return r
	}
	r := a.HTTPResponse
	a.HTTPResponse = nil
	return r
}
