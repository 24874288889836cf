// Package gateway accepts CPE connections and runs the CWMP sessions on the
// event loop.
package gateway

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/internal/auth"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
)

var (
	ErrStateViolation    = errors.New("cwmp state violation")
	ErrProtocol          = errors.New("http protocol error")
	ErrIO                = errors.New("session i/o error")
	ErrAuth              = errors.New("authentication protocol error")
	ErrTLSHandshake      = errors.New("tls handshake failed")
	ErrConnectionRefused = errors.New("connection refused")
	ErrAcceptFailed      = errors.New("accept failed")

	errPeerClosed = errors.New("peer closed connection")
)

// EventSink receives session and control events. Publish must not block.
type EventSink interface {
	Publish(e *models.EventLog)
}

// Options tune sessions.
type Options struct {
	TLSHandshakeTimeout time.Duration
	WriteTimeout        time.Duration
	ArenaLimit          int
	MaxRequestSize      int
}

func (o *Options) setDefaults() {
	if o.TLSHandshakeTimeout <= 0 {
		o.TLSHandshakeTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ArenaLimit <= 0 {
		o.ArenaLimit = 8 << 20
	}
	if o.MaxRequestSize <= 0 {
		o.MaxRequestSize = 4 << 20
	}
}

// Server owns the listeners and sessions of every ACS. All methods must run
// on the loop goroutine.
type Server struct {
	loop     *eventloop.Loop
	repo     *storage.Repository
	verifier *auth.Verifier
	files    *FileServer
	events   EventSink
	metrics  *metrics.Metrics
	opts     Options

	listeners   map[*models.Acs]*Listener
	peeks       map[*acceptedConn]struct{}
	sessions    map[models.SessionID]*Session
	lastSession models.SessionID
}

// NewServer wires a gateway. fsys, events and m may be nil.
func NewServer(loop *eventloop.Loop, repo *storage.Repository, fsys afero.Fs,
	events EventSink, m *metrics.Metrics, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		loop:      loop,
		repo:      repo,
		verifier:  auth.NewVerifier(),
		files:     NewFileServer(fsys),
		events:    events,
		metrics:   m,
		opts:      opts,
		listeners: make(map[*models.Acs]*Listener),
		peeks:     make(map[*acceptedConn]struct{}),
		sessions:  make(map[models.SessionID]*Session),
	}
}

// EnableAcs starts listening on the ACS port.
func (s *Server) EnableAcs(acs *models.Acs) error {
	if acs.Listening {
		return nil
	}
	if acs.Port <= 0 || acs.Port > 65535 {
		return fmt.Errorf("acs %s: port %d: %w", acs.Name, acs.Port, models.ErrInvalid)
	}
	if s.repo != nil && s.repo.PortInUse(acs.Port, acs) {
		return fmt.Errorf("acs %s: port %d already in use: %w", acs.Name, acs.Port, models.ErrConfigConflict)
	}

	var tlsConfig *tls.Config
	if acs.SSL {
		cert, err := tls.LoadX509KeyPair(acs.Cert, acs.Cert)
		if err != nil {
			return fmt.Errorf("acs %s: load certificate %s: %w", acs.Name, acs.Cert, err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS10,
		}
	}

	l, err := listen(s, acs, tlsConfig)
	if err != nil {
		return err
	}
	if err := s.loop.Add(l); err != nil {
		l.close()
		return err
	}

	s.listeners[acs] = l
	acs.Listening = true
	acs.Enabled = true

	log.Info().Str("acs", acs.Name).Int("port", acs.Port).Bool("ssl", acs.SSL).Msg("ACS enabled")
	s.emit(models.NewEvent(acs.Name, "", models.EventTypeAcsEnabled, models.EventLevelInfo,
		fmt.Sprintf("listening on port %d", acs.Port)))
	return nil
}

// DisableAcs removes the listener and force-closes every session of the
// ACS. CPE caches are cleared.
func (s *Server) DisableAcs(acs *models.Acs) error {
	if l, ok := s.listeners[acs]; ok {
		delete(s.listeners, acs)
		s.loop.Remove(l)
	}
	wasListening := acs.Listening
	acs.Listening = false
	acs.Enabled = false

	for c := range s.peeks {
		if c.acs == acs {
			s.loop.Remove(c)
		}
	}
	for _, sess := range s.sessions {
		if sess.acs == acs {
			s.closeSession(sess, "acs disabled")
		}
	}
	for _, c := range acs.Cpes {
		c.Reset()
	}
	s.verifier.Forget(acs)

	if wasListening {
		log.Info().Str("acs", acs.Name).Msg("ACS disabled")
		s.emit(models.NewEvent(acs.Name, "", models.EventTypeAcsDisabled, models.EventLevelInfo, "listener removed"))
	}
	return nil
}

// DisableCpe closes the CPE session, clears its caches and refuses further
// sessions until it is enabled again. Repeating it changes nothing.
func (s *Server) DisableCpe(cpe *models.Cpe) {
	if sess := s.sessionOf(cpe); sess != nil {
		s.closeSession(sess, "cpe disabled")
	}
	cpe.Enabled = false
	cpe.Reset()
}

// Wake resumes a session of cpe parked in PENDING.
func (s *Server) Wake(cpe *models.Cpe) {
	if sess := s.sessionOf(cpe); sess != nil && sess.state == models.SessionPending {
		sess.resume()
	}
}

// SendHTTPResponse answers a PENDING session with the pending override at
// once. For an ACS-level override the first parked session of the ACS takes it.
func (s *Server) SendHTTPResponse(acs *models.Acs, cpe *models.Cpe) {
	targets := acs.Cpes
	if cpe != nil {
		targets = []*models.Cpe{cpe}
	}
	for _, c := range targets {
		sess := s.sessionOf(c)
		if sess == nil || sess.state != models.SessionPending {
			continue
		}
		sess.replyOverride()
		return
	}
}

// SessionState returns the state of the session bound to cpe, NOP if none.
func (s *Server) SessionState(cpe *models.Cpe) models.SessionState {
	if sess := s.sessionOf(cpe); sess != nil {
		return sess.state
	}
	return models.SessionNop
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return len(s.sessions)
}

// Shutdown disables every ACS.
func (s *Server) Shutdown() {
	for acs := range s.listeners {
		_ = s.DisableAcs(acs)
	}
	for _, sess := range s.sessions {
		s.closeSession(sess, "shutdown")
	}
}

func (s *Server) sessionOf(cpe *models.Cpe) *Session {
	if cpe == nil || cpe.Session == nil {
		return nil
	}
	return s.sessions[cpe.Session.ID()]
}

// newSession takes ownership of fd: it is closed when the session cannot
// start.
func (s *Server) newSession(acs *models.Acs, fd int, peer net.Addr, tlsConfig *tls.Config) error {
	var tr transport = &plainTransport{fd: fd}
	if tlsConfig != nil {
		t, err := newTLSTransport(fd, tlsConfig, s.opts.TLSHandshakeTimeout, s.opts.WriteTimeout)
		if err != nil {
			return err
		}
		tr, fd = t, t.fd
	}

	s.lastSession++
	sess := &Session{
		id:    s.lastSession,
		srv:   s,
		fd:    fd,
		peer:  peer.String(),
		tr:    tr,
		state: models.SessionListen,
		acs:   acs,
		arena: arena.New("session", s.opts.ArenaLimit),
	}

	rbuf, err := sess.arena.Alloc(readChunkSize)
	if err != nil {
		sess.arena.Free()
		tr.Close()
		return err
	}
	sess.rbuf = rbuf

	if err := s.loop.Add(sess); err != nil {
		sess.arena.Free()
		tr.Close()
		return err
	}
	s.sessions[sess.id] = sess
	acs.Sessions[sess.id] = sess

	s.metrics.SessionOpened(acs.Name)
	log.Debug().Uint64("session", uint64(sess.id)).Str("acs", acs.Name).Stringer("peer", peer).Bool("tls", tlsConfig != nil).Msg("session opened")
	s.emit(models.NewEvent(acs.Name, "", models.EventTypeSessionOpen, models.EventLevelDebug, "connection from "+peer.String()))
	return nil
}

// closeSession detaches sess from its ACS and CPE at once and lets the loop
// destroy it.
func (s *Server) closeSession(sess *Session, reason string) {
	log.Debug().Uint64("session", uint64(sess.id)).Str("cpe", sess.cpeName()).Str("reason", reason).Msg("closing session")
	sess.detach()
	s.loop.Remove(sess)
}

func (s *Server) forget(sess *Session) {
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)
	s.metrics.SessionClosed()
	s.emit(models.NewEvent(sess.acs.Name, sess.cpeName(), models.EventTypeSessionClose, models.EventLevelDebug, "session closed"))
}

func (s *Server) emit(e *models.EventLog) {
	if s.events != nil {
		s.events.Publish(e)
	}
}
