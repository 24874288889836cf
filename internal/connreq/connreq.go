// Package connreq issues TR-069 Connection Requests: an HTTP GET from the
// ACS to the CPE's ConnectionRequestURL, answering one digest or basic
// challenge with the CPE's connection request credentials.
package connreq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/auth"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// Publisher receives a CONNECTION_REQUEST event per finished request.
type Publisher interface {
	Publish(e *models.EventLog)
}

// Requester runs each Connection Request on its own goroutine and reports the
// outcome back on the loop, where the CPE state lives.
type Requester struct {
	loop    *eventloop.Loop
	client  *http.Client
	events  Publisher
	metrics *metrics.Metrics
	timeout time.Duration
}

// New creates a Requester. events and m may be nil.
func New(loop *eventloop.Loop, events Publisher, m *metrics.Metrics, timeout time.Duration) *Requester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Requester{
		loop: loop,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		events:  events,
		metrics: m,
		timeout: timeout,
	}
}

// target is the part of the CPE the worker goroutine may read.
type target struct {
	name     string
	url      string
	login    string
	password string
}

// Request marks cpe pending and starts the request. It must be called on the
// loop goroutine.
func (r *Requester) Request(cpe *models.Cpe) error {
	if cpe.URL == "" {
		return fmt.Errorf("cpe %s has no connection request url: %w", cpe.FullName(), models.ErrInvalid)
	}
	if _, err := url.ParseRequestURI(cpe.URL); err != nil {
		return fmt.Errorf("cpe %s: bad connection request url %q: %w", cpe.FullName(), cpe.URL, models.ErrInvalid)
	}
	if cpe.CRState == models.CRPending {
		return fmt.Errorf("cpe %s: connection request in progress: %w", cpe.FullName(), models.ErrConfigConflict)
	}

	cpe.CRState = models.CRPending
	t := target{
		name:     cpe.FullName(),
		url:      cpe.URL,
		login:    cpe.CRAuth.Login,
		password: cpe.CRAuth.Password,
	}
	go r.run(cpe, t)
	return nil
}

func (r *Requester) run(cpe *models.Cpe, t target) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	state := models.CRDone
	code, err := r.do(ctx, t)
	if err != nil {
		state = models.CRFail
		log.Warn().Err(err).Str("cpe", t.name).Int("code", code).Msg("Connection request failed")
	} else {
		log.Info().Str("cpe", t.name).Int("code", code).Msg("Connection request accepted")
	}

	finish := func() {
		// A CPE removed meanwhile keeps its final state; nobody reads it.
		if cpe.CRState == models.CRPending {
			cpe.CRState = state
		}
		r.metrics.ConnRequest(state.String())
		if r.events != nil {
			level := models.EventLevelInfo
			desc := fmt.Sprintf("connection request: HTTP %d", code)
			if err != nil {
				level = models.EventLevelWarning
				desc = "connection request: " + err.Error()
			}
			e := models.NewEvent(cpe.Acs.Name, cpe.Name, models.EventTypeConnectionRequest, level, desc)
			e.Code = state.String()
			e.Details = models.Variables{"url": t.url, "status": code}
			r.events.Publish(e)
		}
	}
	if err := r.loop.Post(finish); err != nil {
		log.Debug().Err(err).Str("cpe", t.name).Msg("Connection request result dropped")
	}
}

// do performs the GET, retrying once with credentials on 401. It returns the
// final HTTP status.
func (r *Requester) do(ctx context.Context, t target) (int, error) {
	resp, err := r.get(ctx, t.url, "")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		if challenge == "" {
			return resp.StatusCode, fmt.Errorf("401 without challenge")
		}
		u, _ := url.Parse(t.url)
		authz, err := auth.ClientAuthorization(challenge, http.MethodGet, u.RequestURI(), t.login, t.password, 1)
		if err != nil {
			return resp.StatusCode, err
		}
		if resp, err = r.get(ctx, t.url, authz); err != nil {
			return 0, err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (r *Requester) get(ctx context.Context, rawURL, authz string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return resp, nil
}
