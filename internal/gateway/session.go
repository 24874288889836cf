package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/internal/auth"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/rpcqueue"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

const (
	readChunkSize = 32 << 10
	soapType      = `text/xml; charset="utf-8"`
)

// Session is one CPE connection and its CWMP state machine.
//
// cpe is set once authentication succeeded and never changes afterwards;
// item is non-nil exactly while the state is WAIT_RESPONSE.
type Session struct {
	id   models.SessionID
	srv  *Server
	fd   int
	peer string
	tr   transport

	state models.SessionState
	acs   *models.Acs
	cpe   *models.Cpe
	arena *arena.Arena
	conv  auth.Conversation

	item      *rpcqueue.Item
	namespace string

	file       afero.File
	fileLeft   int64
	fileChunks int
	afterFile  models.SessionState

	rbuf     []byte
	in       []byte
	out      bytes.Buffer
	closing  bool
	detached bool
}

func (s *Session) ID() models.SessionID {
	return s.id
}

func (s *Session) State() models.SessionState {
	return s.state
}

func (s *Session) Name() string {
	return "session:" + strconv.FormatUint(uint64(s.id), 10)
}

func (s *Session) cpeName() string {
	if s.cpe == nil {
		return ""
	}
	return s.cpe.Name
}

func (s *Session) logger(ev *zerolog.Event) *zerolog.Event {
	ev = ev.Uint64("session", uint64(s.id)).Str("acs", s.acs.Name)
	if s.cpe != nil {
		ev = ev.Str("cpe", s.cpe.Name)
	}
	return ev.Str("state", s.state.String())
}

func (s *Session) BeforePoll(pfd *eventloop.PollFd) error {
	pfd.Fd = s.fd
	switch {
	case s.state == models.SessionSendFile:
		pfd.Events = eventloop.PollOut
	case s.out.Len() > 0:
		pfd.Events = eventloop.PollIn | eventloop.PollOut
	default:
		pfd.Events = eventloop.PollIn
	}
	return nil
}

func (s *Session) AfterPoll(pfd *eventloop.PollFd) error {
	if err := s.service(pfd); err != nil {
		return s.fail(err)
	}
	if s.closing && s.out.Len() == 0 {
		return eventloop.ErrRemove
	}
	return nil
}

func (s *Session) service(pfd *eventloop.PollFd) error {
	if pfd.Writable() {
		var err error
		if s.state == models.SessionSendFile {
			err = s.sendFileChunk()
		} else {
			err = s.flush()
		}
		if err != nil {
			return err
		}
	}

	if pfd.Readable() && s.state != models.SessionSendFile {
		eof, err := s.receive()
		if err != nil {
			return err
		}
		if err := s.process(); err != nil {
			return err
		}
		if eof {
			return errPeerClosed
		}
	}
	return nil
}

func (s *Session) fail(err error) error {
	ev := log.Warn()
	if errors.Is(err, errPeerClosed) {
		ev = log.Debug()
	} else {
		e := models.NewEvent(s.acs.Name, s.cpeName(), models.EventTypeError, models.EventLevelWarning, err.Error())
		e.Details = models.Variables{"state": s.state.String(), "peer": s.peer}
		s.srv.emit(e)
	}
	s.logger(ev).Err(err).Msg("closing cwmp session")
	return eventloop.ErrRemove
}

// receive drains the socket into the input buffer.
func (s *Session) receive() (bool, error) {
	limit := s.srv.opts.MaxRequestSize + maxHeaderBytes
	for {
		n, err := s.tr.Read(s.rbuf)
		if n > 0 {
			s.in = append(s.in, s.rbuf[:n]...)
			if len(s.in) > limit {
				return false, fmt.Errorf("%w: request larger than %d bytes", ErrProtocol, limit)
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, errWouldBlock):
			return false, nil
		case errors.Is(err, io.EOF):
			return true, nil
		case errors.Is(err, ErrTLSHandshake), errors.Is(err, ErrIO):
			return false, err
		}
		return false, fmt.Errorf("%w: read: %v", ErrIO, err)
	}
}

// process handles every complete request in the input buffer, stopping
// while a file is streamed or the session is parked.
func (s *Session) process() error {
	for len(s.in) > 0 && !s.closing {
		if s.state == models.SessionSendFile || s.state == models.SessionPending {
			return nil
		}
		req, body, n, err := parseRequest(s.in, s.srv.opts.MaxRequestSize)
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}
		s.in = append(s.in[:0], s.in[n:]...)
		if err := s.handle(req, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) flush() error {
	for s.out.Len() > 0 {
		n, err := s.tr.Write(s.out.Bytes())
		if n > 0 {
			s.out.Next(n)
		}
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				return nil
			}
			if errors.Is(err, ErrIO) {
				return err
			}
			return fmt.Errorf("%w: write: %v", ErrIO, err)
		}
	}
	return nil
}

func (s *Session) send(r *response) error {
	if s.closing {
		r.close = true
	}
	start := s.out.Len()
	r.encode(&s.out)
	if s.tracing() {
		s.trace("out", s.out.Bytes()[start:])
	}
	return s.flush()
}

func (s *Session) tracing() bool {
	return s.acs.TrafficLog || (s.cpe != nil && s.cpe.TrafficLog)
}

func (s *Session) trace(dir string, data []byte) {
	s.logger(log.Debug()).Str("dir", dir).Msg(string(data))
	e := models.NewEvent(s.acs.Name, s.cpeName(), models.EventTypeTraffic, models.EventLevelDebug, dir)
	e.Details = models.Variables{"data": string(data)}
	s.srv.emit(e)
}

func (s *Session) handle(req *http.Request, body []byte) error {
	if s.tracing() {
		s.trace("in", body)
	}

	switch req.Method {
	case http.MethodGet:
		return s.serveFile(req)
	case http.MethodPost:
	default:
		s.closing = true
		return s.send(newResponse(http.StatusMethodNotAllowed))
	}

	if s.cpe == nil {
		return s.authenticate(req, body)
	}
	return s.handlePost(body)
}

func (s *Session) authenticate(req *http.Request, body []byte) error {
	out, err := s.srv.verifier.Verify(req, s.acs, s.state, &s.conv)

	switch out.Result {
	case auth.Rejected:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case auth.ChallengeSent:
		if s.state == models.SessionListen {
			s.state = models.SessionWaitAuth
		}
		if req.Header.Get("Authorization") != "" {
			s.srv.metrics.AuthChallenge(s.acs.Name)
			s.srv.emit(models.NewEvent(s.acs.Name, "", models.EventTypeAuthFail, models.EventLevelWarning,
				"credentials refused"))
		}
		r := newResponse(http.StatusUnauthorized)
		r.header.Set("WWW-Authenticate", out.Challenge)
		return s.send(r)
	}

	if !out.Cpe.Enabled {
		s.logger(log.Info()).Str("cpe", out.Cpe.Name).Msg("refusing disabled cpe")
		s.closing = true
		return s.send(newResponse(http.StatusForbidden))
	}

	s.cpe = out.Cpe
	s.state = models.SessionWaitAuth
	return s.handlePost(body)
}

func (s *Session) handlePost(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if s.state != models.SessionServe {
			return fmt.Errorf("%w: empty POST", ErrStateViolation)
		}
		return s.sendNext()
	}

	env, decodeErr := cwmp.Unmarshal(body)
	if decodeErr != nil && !errors.Is(decodeErr, cwmp.ErrUnknownMethod) {
		return decodeErr
	}
	// The decoded message lives for this request only; whatever outlives it
	// is accounted again by the inform, result or received-RPC arena.
	msg := arena.New("message", s.srv.opts.ArenaLimit)
	defer msg.Free()
	if err := msg.Hold(env, len(body)); err != nil {
		return err
	}
	if env.Namespace != "" {
		s.namespace = env.Namespace
	}

	if decodeErr != nil {
		if s.state != models.SessionServe {
			return fmt.Errorf("%w: %s", ErrStateViolation, env.Method)
		}
		s.logger(log.Info()).Str("method", env.Method).Msg("unsupported method")
		return s.sendEnvelope(http.StatusInternalServerError, &cwmp.Envelope{
			ID:    env.ID,
			Fault: cwmp.NewSoapFault(cwmp.FaultMethodNotSupported, "Method not supported"),
		})
	}

	switch s.state {
	case models.SessionWaitAuth:
		inform, ok := env.Body.(*cwmp.Inform)
		if !ok {
			return fmt.Errorf("%w: %s before Inform", ErrStateViolation, env.Method)
		}
		return s.handleInform(env, inform, len(body))
	case models.SessionWaitResponse:
		return s.handleResponse(env, len(body))
	case models.SessionServe:
		return s.handleAcsRpc(env, len(body))
	}
	return fmt.Errorf("%w: %s", ErrStateViolation, env.Method)
}

func (s *Session) handleInform(env *cwmp.Envelope, inform *cwmp.Inform, size int) error {
	if ov := s.acs.TakeHTTPResponse(s.cpe); ov != nil {
		s.logger(log.Info()).Stringer("response", ov).Msg("answering Inform with HTTP override")
		return s.sendOverride(ov)
	}

	cpe := s.cpe
	if cpe.Session != nil && cpe.Session.ID() != s.id {
		if old, ok := s.srv.sessions[cpe.Session.ID()]; ok {
			s.srv.closeSession(old, "cpe opened a new session")
		}
	}
	cpe.Session = s
	delete(s.acs.Sessions, s.id)

	cpe.DeviceID = inform.DeviceId
	if url, ok := inform.Parameter("ManagementServer.ConnectionRequestURL"); ok {
		cpe.URL = url
	}
	if inform.HasEvent(cwmp.EventConnectionRequest) && cpe.CRState == models.CRDone {
		cpe.CRState = models.CRNone
	}

	rec, err := cpe.AddInform(inform, size)
	if err != nil {
		return err
	}
	if _, err := cpe.Queue.AddReceived(cwmp.AcsRpcInform, inform, size); err != nil {
		return err
	}

	s.srv.metrics.Inform(s.acs.Name)
	s.logger(log.Info()).Uint32("inform", rec.RequestID).Str("oui", inform.DeviceId.OUI).
		Str("serial", inform.DeviceId.SerialNumber).Msg("Inform accepted")
	e := models.NewEvent(s.acs.Name, cpe.Name, models.EventTypeInform, models.EventLevelInfo, "Inform accepted")
	events := make([]string, 0, len(inform.Event))
	for _, ev := range inform.Event {
		events = append(events, ev.EventCode)
	}
	e.Details = models.Variables{"requestId": rec.RequestID, "events": events, "url": cpe.URL}
	s.srv.emit(e)

	s.state = models.SessionServe
	return s.sendEnvelope(http.StatusOK, &cwmp.Envelope{
		ID:   env.ID,
		Body: &cwmp.InformResponse{MaxEnvelopes: 1},
	})
}

func (s *Session) handleResponse(env *cwmp.Envelope, size int) error {
	it := s.item
	q := s.cpe.Queue

	if env.Fault != nil {
		f := env.Fault.CwmpFault()
		if err := it.Arena.Hold(env.Fault, size); err != nil {
			return err
		}
		q.CompleteFault(it, f)
		s.srv.metrics.RPCResult("fault")
		s.logger(log.Info()).Uint32("rpc", it.RequestID).Uint32("code", f.FaultCode).Msg("CPE answered with a fault")
		e := models.NewEvent(s.acs.Name, s.cpe.Name, models.EventTypeRPCFault, models.EventLevelWarning, f.FaultString)
		e.Code = strconv.FormatUint(uint64(f.FaultCode), 10)
		e.Details = models.Variables{"requestId": it.RequestID}
		s.srv.emit(e)
	} else {
		kind, ok := cwmp.ResponseKind(env.Body)
		if !ok || kind != it.Kind {
			return fmt.Errorf("%w: %s while waiting for %sResponse", ErrStateViolation, env.Method, it.Kind.Method())
		}
		if err := q.Complete(it, env.Body, size); err != nil {
			return err
		}
		s.srv.metrics.RPCResult("response")
		s.logger(log.Debug()).Uint32("rpc", it.RequestID).Str("method", env.Method).Msg("RPC answered")
		e := models.NewEvent(s.acs.Name, s.cpe.Name, models.EventTypeRPCResponse, models.EventLevelInfo, env.Method)
		e.Details = models.Variables{"requestId": it.RequestID}
		s.srv.emit(e)
	}

	s.releaseItem()
	s.state = models.SessionServe
	return s.sendNext()
}

func (s *Session) handleAcsRpc(env *cwmp.Envelope, size int) error {
	if env.Fault != nil {
		return fmt.Errorf("%w: unexpected fault", ErrStateViolation)
	}
	kind, ok := cwmp.AcsKind(env.Body)
	if !ok || kind == cwmp.AcsRpcInform {
		return fmt.Errorf("%w: %s", ErrStateViolation, env.Method)
	}
	reply, ok := cwmp.AcsReply(env.Body)
	if !ok {
		return fmt.Errorf("%w: no reply for %s", ErrStateViolation, env.Method)
	}

	if _, err := s.cpe.Queue.AddReceived(kind, env.Body, size); err != nil {
		return err
	}
	s.logger(log.Info()).Str("method", env.Method).Msg("CPE request received")
	s.srv.emit(models.NewEvent(s.acs.Name, s.cpe.Name, models.EventTypeRPCReceived, models.EventLevelInfo, env.Method))

	return s.sendEnvelope(http.StatusOK, &cwmp.Envelope{ID: env.ID, Body: reply})
}

// sendNext issues the next queued RPC, answers 204 or parks the session.
func (s *Session) sendNext() error {
	q := s.cpe.Queue
	it := q.PopPending()
	if it == nil {
		if s.cpe.SyncMode {
			s.state = models.SessionPending
			s.logger(log.Debug()).Msg("queue empty, waiting for RPC")
			return nil
		}
		return s.send(newResponse(http.StatusNoContent))
	}

	if it.Kind == cwmp.RpcNone {
		q.AttachAwaiting(it)
		if err := q.Complete(it, nil, 0); err != nil {
			return err
		}
		return s.send(newResponse(http.StatusNoContent))
	}

	env := &cwmp.Envelope{
		ID:   strconv.FormatUint(uint64(it.RequestID), 10),
		Body: it.Request,
	}
	q.AttachAwaiting(it)
	it.Arena.Acquire()
	s.item = it
	s.state = models.SessionWaitResponse

	s.srv.metrics.RPCSent(it.Kind.String())
	s.logger(log.Info()).Uint32("rpc", it.RequestID).Str("method", it.Kind.Method()).Msg("sending RPC")
	e := models.NewEvent(s.acs.Name, s.cpe.Name, models.EventTypeRPCSent, models.EventLevelInfo, it.Kind.Method())
	e.Details = models.Variables{"requestId": it.RequestID}
	s.srv.emit(e)

	return s.sendEnvelope(http.StatusOK, env)
}

func (s *Session) sendEnvelope(code int, env *cwmp.Envelope) error {
	env.Namespace = s.namespace
	hold := s.cpe.HoldRequests
	env.HoldRequests = &hold

	var buf bytes.Buffer
	if err := cwmp.Encode(&buf, env); err != nil {
		return fmt.Errorf("%w: encode: %v", cwmp.ErrCodec, err)
	}
	r := newResponse(code)
	r.header.Set("Content-Type", soapType)
	r.body = buf.Bytes()
	r.chunked = s.cpe.ChunkMode
	return s.send(r)
}

func (s *Session) sendOverride(ov *models.HTTPResponse) error {
	r := newResponse(ov.Code)
	if ov.Location != "" {
		r.header.Set("Location", ov.Location)
	}
	return s.send(r)
}

func (s *Session) releaseItem() {
	if s.item != nil {
		s.item.Arena.Release()
		s.item = nil
	}
}

// resume is called from the loop when an RPC was queued for a PENDING
// session or sync mode was turned off.
func (s *Session) resume() {
	s.state = models.SessionServe
	if err := s.sendNext(); err != nil {
		s.abort(err)
		return
	}
	s.continueInput()
}

// replyOverride answers a PENDING session with the HTTP override.
func (s *Session) replyOverride() {
	ov := s.acs.TakeHTTPResponse(s.cpe)
	if ov == nil {
		return
	}
	s.state = models.SessionServe
	if err := s.sendOverride(ov); err != nil {
		s.abort(err)
		return
	}
	s.continueInput()
}

func (s *Session) continueInput() {
	if err := s.process(); err != nil {
		s.abort(err)
	}
}

func (s *Session) abort(err error) {
	_ = s.fail(err)
	s.srv.closeSession(s, "error")
}

func (s *Session) serveFile(req *http.Request) error {
	switch s.state {
	case models.SessionListen, models.SessionWaitAuth, models.SessionServe:
	default:
		return fmt.Errorf("%w: GET", ErrStateViolation)
	}

	f, size, code, err := s.srv.files.Open(s.acs, req.URL.Path)
	if err != nil {
		s.logger(log.Info()).Err(err).Str("path", req.URL.Path).Int("code", code).Msg("GET refused")
		r := newResponse(code)
		r.header.Set("Content-Type", "text/plain")
		if errors.Is(err, errNoHTTPRoot) {
			r.body = []byte(errNoHTTPRoot.Error())
		} else {
			r.body = []byte(http.StatusText(code))
		}
		return s.send(r)
	}

	r := newResponse(http.StatusOK)
	r.header.Set("Content-Type", "application/octet-stream")
	r.length = size
	if err := s.send(r); err != nil {
		f.Close()
		return err
	}

	s.file = f
	s.fileLeft = size
	s.fileChunks = 0
	s.afterFile = s.state
	s.state = models.SessionSendFile
	s.logger(log.Info()).Str("path", req.URL.Path).Int64("size", size).Msg("serving file")
	e := models.NewEvent(s.acs.Name, s.cpeName(), models.EventTypeFileServed, models.EventLevelInfo, req.URL.Path)
	e.Details = models.Variables{"size": size}
	s.srv.emit(e)

	if size == 0 {
		return s.finishFile()
	}
	return nil
}

// sendFileChunk writes at most one chunk of the file per writable event.
func (s *Session) sendFileChunk() error {
	if s.out.Len() == 0 && s.fileLeft > 0 {
		n := int64(fileChunkSize)
		if s.fileLeft < n {
			n = s.fileLeft
		}
		chunk := s.rbuf[:n]
		read, err := io.ReadFull(s.file, chunk)
		if read > 0 {
			s.out.Write(chunk[:read])
			s.fileLeft -= int64(read)
			s.fileChunks++
			s.srv.metrics.FileSent(read)
		}
		if err != nil {
			s.logger(log.Warn()).Err(err).Msg("file read failed")
			s.fileLeft = 0
			s.closing = true
		}
	}

	if err := s.flush(); err != nil {
		s.closeFile()
		return err
	}
	return s.maybeFinishFile()
}

func (s *Session) maybeFinishFile() error {
	if s.fileLeft > 0 || s.out.Len() > 0 {
		return nil
	}
	return s.finishFile()
}

func (s *Session) finishFile() error {
	s.closeFile()
	s.state = s.afterFile
	return s.process()
}

func (s *Session) closeFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// detach drops the weak references the ACS and CPE hold on the session.
func (s *Session) detach() {
	if s.detached {
		return
	}
	s.detached = true
	s.closing = true
	if s.cpe != nil && s.cpe.Session != nil && s.cpe.Session.ID() == s.id {
		s.cpe.Session = nil
	}
	delete(s.acs.Sessions, s.id)
}

func (s *Session) Destroy() {
	s.detach()
	s.closeFile()
	s.releaseItem()
	s.tr.Close()
	s.arena.Free()
	s.rbuf = nil
	s.in = nil
	s.state = models.SessionNop
	s.srv.forget(s)
	log.Debug().Uint64("session", uint64(s.id)).Msg("session destroyed")
}
