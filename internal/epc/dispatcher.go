package epc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
	"github.com/oktetlabs/test-environment-sub007/internal/validation"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

// Controller is the session side the dispatcher drives.
type Controller interface {
	EnableAcs(acs *models.Acs) error
	DisableAcs(acs *models.Acs) error
	DisableCpe(cpe *models.Cpe)
	Wake(cpe *models.Cpe)
	SendHTTPResponse(acs *models.Acs, cpe *models.Cpe)
	SessionState(cpe *models.Cpe) models.SessionState
}

// ConnRequester issues a Connection Request to a CPE without blocking.
type ConnRequester interface {
	Request(cpe *models.Cpe) error
}

// Publisher receives a journal entry per handled request.
type Publisher interface {
	Publish(e *models.EventLog)
}

// Dispatcher applies EPC requests to the repository. Handle must be called
// on the event loop goroutine.
type Dispatcher struct {
	repo      *storage.Repository
	ctl       Controller
	cr        ConnRequester
	events    Publisher
	metrics   *metrics.Metrics
	validator *validation.Validator
}

func NewDispatcher(repo *storage.Repository, ctl Controller, events Publisher, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		ctl:       ctl,
		events:    events,
		metrics:   m,
		validator: validation.NewValidator(),
	}
}

// SetConnRequester enables the connection_request kind.
func (d *Dispatcher) SetConnRequester(cr ConnRequester) {
	d.cr = cr
}

// HandleFrame decodes one framed request and returns the encoded response.
func (d *Dispatcher) HandleFrame(payload []byte) []byte {
	var resp *Response
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		resp = &Response{Status: StatusBadMessage, Error: err.Error()}
		d.metrics.EPCRequest("unknown", string(resp.Status))
	} else {
		resp = d.Handle(&req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(&Response{Status: StatusError, Error: err.Error()})
	}
	return out
}

// Handle runs one request and reports its status.
func (d *Dispatcher) Handle(req *Request) *Response {
	resp := &Response{}
	err := d.validator.Validate(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", errBadMessage, err)
	} else {
		err = d.dispatch(req, resp)
	}

	resp.Status = StatusOf(err)
	if err != nil {
		resp.Error = err.Error()
	}
	d.metrics.EPCRequest(string(req.Kind), string(resp.Status))

	ev := log.Debug()
	if resp.Status != StatusOK && resp.Status != StatusNotReady {
		ev = log.Info().Err(err)
	}
	ev.Str("kind", string(req.Kind)).Str("acs", req.Acs).Str("cpe", req.Cpe).
		Str("status", string(resp.Status)).Msg("epc request")

	if d.events != nil && req.Kind != KindConfigObtain && req.Kind != KindConfigList {
		e := models.NewEvent(req.Acs, req.Cpe, models.EventTypeEPC, models.EventLevelDebug, string(req.Kind))
		e.Code = string(resp.Status)
		if req.Field != "" {
			e.Details = models.Variables{"field": req.Field}
		}
		d.events.Publish(e)
	}
	return resp
}

func (d *Dispatcher) dispatch(req *Request, resp *Response) error {
	switch req.Kind {
	case KindConfigAdd:
		return d.configAdd(req)
	case KindConfigDel:
		return d.configDel(req)
	case KindConfigModify, KindConfigObtain:
		return d.configField(req, resp)
	case KindConfigList:
		return d.configList(req, resp)
	}

	acs, err := d.repo.Acs(req.Acs)
	if err != nil {
		return err
	}
	switch req.Kind {
	case KindEnableAcs:
		return d.ctl.EnableAcs(acs)
	case KindDisableAcs:
		return d.ctl.DisableAcs(acs)
	case KindInjectHTTPResponse:
		if req.Cpe == "" {
			return d.injectHTTPResponse(req, acs, nil)
		}
	}

	cpe, err := acs.Cpe(req.Cpe)
	if err != nil {
		return err
	}
	switch req.Kind {
	case KindEnqueueRpc:
		return d.enqueueRpc(req, resp, cpe)
	case KindReadResult:
		return d.readResult(req, resp, cpe)
	case KindSetHoldRequests:
		if req.Flag == nil {
			return fmt.Errorf("%w: flag missing", errBadMessage)
		}
		cpe.HoldRequests = *req.Flag
		return nil
	case KindSetSyncMode:
		if req.Flag == nil {
			return fmt.Errorf("%w: flag missing", errBadMessage)
		}
		d.setSyncMode(cpe, *req.Flag)
		return nil
	case KindInjectHTTPResponse:
		return d.injectHTTPResponse(req, acs, cpe)
	case KindDisableCpe:
		d.ctl.DisableCpe(cpe)
		return nil
	case KindGetCpeInform:
		rec, err := cpe.InformByID(req.RequestID)
		if err != nil {
			return err
		}
		resp.RequestID = rec.RequestID
		resp.Rpc = cwmp.AcsRpcInform.String()
		return setPayload(resp, rec.Inform)
	case KindGetCRState:
		resp.Value = takeCRState(cpe).String()
		return nil
	case KindConnectionRequest:
		if d.cr == nil {
			return errors.New("connection requests are not configured")
		}
		if err := d.cr.Request(cpe); err != nil {
			return err
		}
		resp.Value = cpe.CRState.String()
		return nil
	case KindSessionState:
		resp.Value = d.ctl.SessionState(cpe).String()
		return nil
	}
	return fmt.Errorf("%w: kind %q", errBadMessage, req.Kind)
}

func (d *Dispatcher) enqueueRpc(req *Request, resp *Response, cpe *models.Cpe) error {
	kind, err := cwmp.ParseRpcKind(req.Rpc)
	if err != nil || kind == cwmp.RpcFault {
		return fmt.Errorf("%w: rpc %q", models.ErrInvalid, req.Rpc)
	}

	var msg cwmp.Message
	if kind != cwmp.RpcNone {
		if msg, err = cwmp.NewRequest(kind); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalid, err)
		}
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, msg); err != nil {
				return fmt.Errorf("%w: %s payload: %v", errBadMessage, kind, err)
			}
		}
	}

	it, err := cpe.Queue.Enqueue(kind, msg, len(req.Payload))
	if err != nil {
		return err
	}
	resp.RequestID = it.RequestID
	resp.Rpc = kind.String()
	log.Info().Str("cpe", cpe.FullName()).Str("rpc", kind.String()).Uint32("request", it.RequestID).
		Bool("sync", cpe.SyncMode).Msg("RPC queued")

	d.ctl.Wake(cpe)
	return nil
}

// readResult pops a CPE-directed result by id (zero for the oldest), or a
// CPE-initiated one by kind when rpc names one and no id is given.
func (d *Dispatcher) readResult(req *Request, resp *Response, cpe *models.Cpe) error {
	if req.Rpc != "" && req.RequestID == 0 {
		kind, err := cwmp.ParseAcsRpcKind(req.Rpc)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalid, err)
		}
		it, err := cpe.Queue.ReadReceived(kind)
		if err != nil {
			return err
		}
		defer it.Release()
		resp.RequestID = it.RequestID
		resp.Rpc = it.AcsKind.String()
		return setPayload(resp, it.Request)
	}

	it, err := cpe.Queue.ReadResult(req.RequestID)
	if err != nil {
		return err
	}
	defer it.Release()
	resp.RequestID = it.RequestID
	resp.Rpc = it.Kind.String()

	if it.Kind == cwmp.RpcFault {
		if err := setPayload(resp, it.Fault); err != nil {
			return err
		}
		return fmt.Errorf("rpc %d: %w %d", it.RequestID, errFault, it.Fault.FaultCode)
	}
	if it.Response == nil {
		return nil
	}
	return setPayload(resp, it.Response)
}

func (d *Dispatcher) setSyncMode(cpe *models.Cpe, on bool) {
	cpe.SyncMode = on
	log.Info().Str("cpe", cpe.FullName()).Bool("sync", on).Msg("sync mode changed")
	if !on {
		d.ctl.Wake(cpe)
	}
}

// injectHTTPResponse stores a one-shot override; code zero clears it. A
// session parked in PENDING answers with it at once.
func (d *Dispatcher) injectHTTPResponse(req *Request, acs *models.Acs, cpe *models.Cpe) error {
	var ov *models.HTTPResponse
	if req.Code != 0 {
		var err error
		if ov, err = models.NewHTTPResponse(strconv.Itoa(req.Code), req.Location); err != nil {
			return err
		}
	}
	if cpe != nil {
		cpe.HTTPResponse = ov
	} else {
		acs.HTTPResponse = ov
	}
	if ov != nil {
		d.ctl.SendHTTPResponse(acs, cpe)
	}
	return nil
}

func (d *Dispatcher) configAdd(req *Request) error {
	if req.Cpe == "" {
		_, err := d.repo.AddAcs(req.Acs)
		return err
	}
	acs, err := d.repo.Acs(req.Acs)
	if err != nil {
		return err
	}
	_, err = acs.AddCpe(req.Cpe)
	return err
}

// configDel removes a record, closing whatever sessions it owns first.
func (d *Dispatcher) configDel(req *Request) error {
	acs, err := d.repo.Acs(req.Acs)
	if err != nil {
		return err
	}
	if req.Cpe == "" {
		if acs.Listening {
			if err := d.ctl.DisableAcs(acs); err != nil {
				return err
			}
		}
		return d.repo.DelAcs(acs.Name)
	}
	cpe, err := acs.Cpe(req.Cpe)
	if err != nil {
		return err
	}
	d.ctl.DisableCpe(cpe)
	return acs.RemoveCpe(cpe.Name)
}

func (d *Dispatcher) configList(req *Request, resp *Response) error {
	resp.List = []string{}
	if req.Acs == "" {
		for _, a := range d.repo.List() {
			resp.List = append(resp.List, a.Name)
		}
		return nil
	}
	acs, err := d.repo.Acs(req.Acs)
	if err != nil {
		return err
	}
	for _, c := range acs.Cpes {
		resp.List = append(resp.List, c.Name)
	}
	return nil
}

func (d *Dispatcher) configField(req *Request, resp *Response) error {
	acs, err := d.repo.Acs(req.Acs)
	if err != nil {
		return err
	}
	modify := req.Kind == KindConfigModify

	if req.Cpe == "" {
		f, ok := acsFields[req.Field]
		if !ok {
			return fmt.Errorf("%w: acs field %q", models.ErrInvalid, req.Field)
		}
		if !modify {
			resp.Value = f.get(acs)
			return nil
		}
		if f.set == nil {
			return fmt.Errorf("acs field %s: %w", req.Field, models.ErrReadOnly)
		}
		return f.set(d, acs, req.Value)
	}

	cpe, err := acs.Cpe(req.Cpe)
	if err != nil {
		return err
	}
	f, ok := cpeFields[req.Field]
	if !ok {
		return fmt.Errorf("%w: cpe field %q", models.ErrInvalid, req.Field)
	}
	if !modify {
		resp.Value = f.get(d, cpe)
		return nil
	}
	if f.set == nil {
		return fmt.Errorf("cpe field %s: %w", req.Field, models.ErrReadOnly)
	}
	return f.set(d, cpe, req.Value)
}

// takeCRState reads the Connection Request state; a finished one is
// consumed by the read.
func takeCRState(cpe *models.Cpe) models.CRState {
	st := cpe.CRState
	if st == models.CRDone || st == models.CRFail {
		cpe.CRState = models.CRNone
	}
	return st
}

func setPayload(resp *Response, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	resp.Payload = data
	return nil
}
