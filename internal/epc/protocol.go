// Package epc implements the control channel of the ACSE: framed JSON
// requests that configure ACS and CPE records, queue RPCs and read back
// their results.
package epc

import (
	"encoding/json"
	"errors"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

// Kind names an EPC operation.
type Kind string

const (
	KindEnqueueRpc         Kind = "enqueue_rpc"
	KindReadResult         Kind = "read_result"
	KindSetHoldRequests    Kind = "set_hold_requests"
	KindSetSyncMode        Kind = "set_sync_mode"
	KindInjectHTTPResponse Kind = "inject_http_response"
	KindEnableAcs          Kind = "enable_acs"
	KindDisableAcs         Kind = "disable_acs"
	KindDisableCpe         Kind = "disable_cpe"
	KindGetCpeInform       Kind = "get_cpe_inform"
	KindGetCRState         Kind = "get_cr_state"
	KindConnectionRequest  Kind = "connection_request"
	KindSessionState       Kind = "session_state"
	KindConfigAdd          Kind = "config_add"
	KindConfigDel          Kind = "config_del"
	KindConfigModify       Kind = "config_modify"
	KindConfigObtain       Kind = "config_obtain"
	KindConfigList         Kind = "config_list"
)

// Status is the outcome reported to the EPC peer.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNotReady       Status = "not_ready"
	StatusNoSuchAcs      Status = "no_such_acs"
	StatusNoSuchCpe      Status = "no_such_cpe"
	StatusNoSuchRpc      Status = "no_such_rpc"
	StatusFault          Status = "fault"
	StatusBadMessage     Status = "bad_message"
	StatusConfigConflict Status = "config_conflict"
	StatusInvalid        Status = "invalid"
	StatusReadOnly       Status = "read_only"
	StatusOutOfMemory    Status = "out_of_memory"
	StatusError          Status = "error"
)

// Request is one EPC call. Which fields matter depends on Kind; Cpe empty
// addresses the ACS itself for the config kinds.
type Request struct {
	Kind Kind   `json:"kind" validate:"required,oneof=enqueue_rpc read_result set_hold_requests set_sync_mode inject_http_response enable_acs disable_acs disable_cpe get_cpe_inform get_cr_state connection_request session_state config_add config_del config_modify config_obtain config_list"`
	Acs  string `json:"acs,omitempty" validate:"max=64"`
	Cpe  string `json:"cpe,omitempty" validate:"max=64"`

	// Rpc is the RPC kind for enqueue_rpc, or the CPE-initiated kind for
	// read_result ("inform", "transfer_complete", ...).
	Rpc       string          `json:"rpc,omitempty"`
	RequestID uint32          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
	Flag  *bool  `json:"flag,omitempty"`

	Code     int    `json:"code,omitempty" validate:"max=599"`
	Location string `json:"location,omitempty"`
}

// Response answers one Request.
type Response struct {
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Rpc       string          `json:"rpc,omitempty"`
	RequestID uint32          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Value     string          `json:"value,omitempty"`
	List      []string        `json:"list,omitempty"`
}

// Err turns a non-ok response back into an error for clients.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	if r.Error != "" {
		return &CallError{Status: r.Status, Msg: r.Error}
	}
	return &CallError{Status: r.Status}
}

// CallError is a failed EPC call as seen by a client.
type CallError struct {
	Status Status
	Msg    string
}

func (e *CallError) Error() string {
	if e.Msg == "" {
		return "epc: " + string(e.Status)
	}
	return "epc: " + string(e.Status) + ": " + e.Msg
}

var (
	errBadMessage = errors.New("bad message")
	errFault      = errors.New("cpe returned a fault")
)

// StatusOf maps an error to its EPC status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, models.ErrNotReady):
		return StatusNotReady
	case errors.Is(err, models.ErrNoSuchAcs):
		return StatusNoSuchAcs
	case errors.Is(err, models.ErrNoSuchCpe):
		return StatusNoSuchCpe
	case errors.Is(err, models.ErrNoSuchRpc):
		return StatusNoSuchRpc
	case errors.Is(err, errFault):
		return StatusFault
	case errors.Is(err, errBadMessage), errors.Is(err, cwmp.ErrCodec):
		return StatusBadMessage
	case errors.Is(err, models.ErrConfigConflict):
		return StatusConfigConflict
	case errors.Is(err, models.ErrInvalid):
		return StatusInvalid
	case errors.Is(err, models.ErrReadOnly):
		return StatusReadOnly
	case errors.Is(err, arena.ErrOutOfMemory):
		return StatusOutOfMemory
	}
	return StatusError
}
