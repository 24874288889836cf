package epc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

type fakeCtl struct {
	woken    []string
	answered []string
	state    models.SessionState
}

func (f *fakeCtl) EnableAcs(acs *models.Acs) error {
	if acs.Port == 0 {
		return fmt.Errorf("port 0: %w", models.ErrInvalid)
	}
	acs.Listening = true
	acs.Enabled = true
	return nil
}

func (f *fakeCtl) DisableAcs(acs *models.Acs) error {
	acs.Listening = false
	acs.Enabled = false
	for _, c := range acs.Cpes {
		c.Reset()
	}
	return nil
}

func (f *fakeCtl) DisableCpe(cpe *models.Cpe) {
	cpe.Enabled = false
	cpe.Reset()
}

func (f *fakeCtl) Wake(cpe *models.Cpe) {
	f.woken = append(f.woken, cpe.Name)
}

func (f *fakeCtl) SendHTTPResponse(acs *models.Acs, cpe *models.Cpe) {
	name := acs.Name
	if cpe != nil {
		name = cpe.FullName()
	}
	f.answered = append(f.answered, name)
}

func (f *fakeCtl) SessionState(cpe *models.Cpe) models.SessionState {
	if f.state == 0 {
		return models.SessionNop
	}
	return f.state
}

type fakeCR struct {
	calls int
}

func (f *fakeCR) Request(cpe *models.Cpe) error {
	f.calls++
	cpe.CRState = models.CRPending
	return nil
}

func newDispatcher(t *testing.T) (*Dispatcher, *fakeCtl) {
	ctl := &fakeCtl{}
	d := NewDispatcher(storage.NewRepository(), ctl, nil, metrics.New())
	for _, req := range []*Request{
		{Kind: KindConfigAdd, Acs: "a1"},
		{Kind: KindConfigAdd, Acs: "a1", Cpe: "c1"},
	} {
		require.Equal(t, StatusOK, d.Handle(req).Status)
	}
	return d, ctl
}

func modify(d *Dispatcher, acs, cpe, field, value string) *Response {
	return d.Handle(&Request{Kind: KindConfigModify, Acs: acs, Cpe: cpe, Field: field, Value: value})
}

func obtain(d *Dispatcher, acs, cpe, field string) *Response {
	return d.Handle(&Request{Kind: KindConfigObtain, Acs: acs, Cpe: cpe, Field: field})
}

func TestConfigFields(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)

	assert.Equal(StatusOK, modify(d, "a1", "", "url", "/acs").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "auth_mode", "basic").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "http_response", "302 http://x/").Status)
	assert.Equal("/acs", obtain(d, "a1", "", "url").Value)
	assert.Equal("basic", obtain(d, "a1", "", "auth_mode").Value)
	assert.Equal("302 http://x/", obtain(d, "a1", "", "http_response").Value)
	assert.Equal(StatusOK, modify(d, "a1", "", "http_response", "").Status)
	assert.Equal("", obtain(d, "a1", "", "http_response").Value)

	assert.Equal(StatusInvalid, modify(d, "a1", "", "auth_mode", "kerberos").Status)
	assert.Equal(StatusInvalid, modify(d, "a1", "", "ssl", "maybe").Status)
	assert.Equal(StatusInvalid, modify(d, "a1", "", "udp_port", "1").Status)
	assert.Equal(StatusNoSuchAcs, obtain(d, "a9", "", "url").Status)

	assert.Equal(StatusOK, modify(d, "a1", "c1", "login", "alice").Status)
	assert.Equal(StatusOK, modify(d, "a1", "c1", "chunk_mode", "1").Status)
	assert.Equal("alice", obtain(d, "a1", "c1", "login").Value)
	assert.Equal("1", obtain(d, "a1", "c1", "chunk_mode").Value)
	assert.Equal(StatusReadOnly, modify(d, "a1", "c1", "oui", "x").Status)
	assert.Equal(StatusReadOnly, modify(d, "a1", "c1", "cwmp_state", "1").Status)
	assert.Equal("1", obtain(d, "a1", "c1", "cwmp_state").Value)
	assert.Equal(StatusNoSuchCpe, obtain(d, "a1", "c9", "login").Status)

	list := d.Handle(&Request{Kind: KindConfigList})
	assert.Equal([]string{"a1"}, list.List)
	list = d.Handle(&Request{Kind: KindConfigList, Acs: "a1"})
	assert.Equal([]string{"c1"}, list.List)

	assert.Equal(StatusConfigConflict, d.Handle(&Request{Kind: KindConfigAdd, Acs: "a1"}).Status)
}

func TestEnableAndPortConflict(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)

	assert.Equal(StatusInvalid, d.Handle(&Request{Kind: KindEnableAcs, Acs: "a1"}).Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "port", "7547").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "enabled", "1").Status)
	assert.Equal("1", obtain(d, "a1", "", "enabled").Value)

	assert.Equal(StatusConfigConflict, modify(d, "a1", "", "port", "7548").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "port", "7547").Status)
	assert.Equal(StatusConfigConflict, modify(d, "a1", "", "ssl", "1").Status)
	assert.Equal(StatusConfigConflict, modify(d, "a1", "", "cert", "/tmp/acs.pem").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "ssl", "0").Status)
	assert.Equal("0", obtain(d, "a1", "", "ssl").Value)

	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindDisableAcs, Acs: "a1"}).Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "port", "7548").Status)
	assert.Equal(StatusOK, modify(d, "a1", "", "cert", "/tmp/acs.pem").Status)
	assert.Equal("/tmp/acs.pem", obtain(d, "a1", "", "cert").Value)

	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindConfigDel, Acs: "a1"}).Status)
	assert.Equal(StatusNoSuchAcs, d.Handle(&Request{Kind: KindDisableAcs, Acs: "a1"}).Status)
}

func TestEnqueueAndReadResult(t *testing.T) {
	assert := require.New(t)
	d, ctl := newDispatcher(t)
	cpe, err := d.repo.Cpe("a1", "c1")
	assert.NoError(err)

	resp := d.Handle(&Request{
		Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c1", Rpc: "get_parameter_names",
		Payload: json.RawMessage(`{"parameterPath":"Device.","nextLevel":true}`),
	})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal(uint32(1), resp.RequestID)
	assert.Equal([]string{"c1"}, ctl.woken)

	read := &Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1", RequestID: resp.RequestID}
	assert.Equal(StatusNotReady, d.Handle(read).Status)

	it := cpe.Queue.PopPending()
	gpn := it.Request.(*cwmp.GetParameterNames)
	assert.Equal("Device.", gpn.ParameterPath)
	assert.True(gpn.NextLevel)
	cpe.Queue.AttachAwaiting(it)
	assert.Equal(StatusNotReady, d.Handle(read).Status)

	reply := &cwmp.GetParameterNamesResponse{ParameterList: cwmp.ParameterInfoList{{Name: "Device.X"}}}
	assert.NoError(cpe.Queue.Complete(it, reply, 64))

	resp = d.Handle(read)
	assert.Equal(StatusOK, resp.Status)
	assert.Equal("get_parameter_names", resp.Rpc)
	var got cwmp.GetParameterNamesResponse
	assert.NoError(json.Unmarshal(resp.Payload, &got))
	assert.Equal("Device.X", got.ParameterList[0].Name)
	assert.True(it.Arena.Freed())

	assert.Equal(StatusNoSuchRpc, d.Handle(read).Status)

	assert.Equal(StatusInvalid, d.Handle(&Request{Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c1", Rpc: "fault"}).Status)
	assert.Equal(StatusInvalid, d.Handle(&Request{Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c1", Rpc: "bogus"}).Status)
	assert.Equal(StatusBadMessage, d.Handle(&Request{
		Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c1", Rpc: "reboot", Payload: json.RawMessage(`[1,2]`),
	}).Status)
	assert.Equal(StatusNoSuchCpe, d.Handle(&Request{Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c2", Rpc: "reboot"}).Status)
}

func TestReadFaultAndReceived(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)
	cpe, _ := d.repo.Cpe("a1", "c1")

	resp := d.Handle(&Request{Kind: KindEnqueueRpc, Acs: "a1", Cpe: "c1", Rpc: "get_parameter_values",
		Payload: json.RawMessage(`{"parameterNames":["Device.Bad."]}`)})
	assert.Equal(StatusOK, resp.Status)
	it := cpe.Queue.PopPending()
	cpe.Queue.AttachAwaiting(it)
	cpe.Queue.CompleteFault(it, &cwmp.Fault{FaultCode: 9005, FaultString: "Invalid parameter name"})

	inform := &cwmp.Inform{DeviceId: cwmp.DeviceIdStruct{OUI: "010203"}}
	_, err := cpe.Queue.AddReceived(cwmp.AcsRpcInform, inform, 32)
	assert.NoError(err)

	resp = d.Handle(&Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1"})
	assert.Equal(StatusFault, resp.Status)
	assert.Equal("fault", resp.Rpc)
	var f cwmp.Fault
	assert.NoError(json.Unmarshal(resp.Payload, &f))
	assert.Equal(uint32(9005), f.FaultCode)

	resp = d.Handle(&Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1", Rpc: "inform"})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal("inform", resp.Rpc)
	assert.Contains(string(resp.Payload), "010203")

	assert.Equal(StatusNotReady, d.Handle(&Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1", Rpc: "inform"}).Status)
	assert.Equal(StatusInvalid, d.Handle(&Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1", Rpc: "nope"}).Status)
}

func TestInformsAndCRState(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)
	cpe, _ := d.repo.Cpe("a1", "c1")

	assert.Equal(StatusNotReady, d.Handle(&Request{Kind: KindGetCpeInform, Acs: "a1", Cpe: "c1"}).Status)
	_, err := cpe.AddInform(&cwmp.Inform{DeviceId: cwmp.DeviceIdStruct{SerialNumber: "SN1"}}, 16)
	assert.NoError(err)
	_, err = cpe.AddInform(&cwmp.Inform{DeviceId: cwmp.DeviceIdStruct{SerialNumber: "SN2"}}, 16)
	assert.NoError(err)

	resp := d.Handle(&Request{Kind: KindGetCpeInform, Acs: "a1", Cpe: "c1"})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal(uint32(2), resp.RequestID)
	assert.Contains(string(resp.Payload), "SN2")
	resp = d.Handle(&Request{Kind: KindGetCpeInform, Acs: "a1", Cpe: "c1", RequestID: 1})
	assert.Contains(string(resp.Payload), "SN1")
	assert.Equal(StatusNoSuchRpc, d.Handle(&Request{Kind: KindGetCpeInform, Acs: "a1", Cpe: "c1", RequestID: 7}).Status)

	cpe.CRState = models.CRDone
	resp = d.Handle(&Request{Kind: KindGetCRState, Acs: "a1", Cpe: "c1"})
	assert.Equal("done", resp.Value)
	assert.Equal(models.CRNone, cpe.CRState)

	assert.Equal(StatusError, d.Handle(&Request{Kind: KindConnectionRequest, Acs: "a1", Cpe: "c1"}).Status)
	cr := &fakeCR{}
	d.SetConnRequester(cr)
	resp = d.Handle(&Request{Kind: KindConnectionRequest, Acs: "a1", Cpe: "c1"})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal("pending", resp.Value)
	assert.Equal("2", obtain(d, "a1", "c1", "cr_state").Value)
	assert.Equal(1, cr.calls)
}

func TestFlagsAndOverrides(t *testing.T) {
	assert := require.New(t)
	d, ctl := newDispatcher(t)
	acs, _ := d.repo.Acs("a1")
	cpe, _ := d.repo.Cpe("a1", "c1")
	on, off := true, false

	assert.Equal(StatusBadMessage, d.Handle(&Request{Kind: KindSetHoldRequests, Acs: "a1", Cpe: "c1"}).Status)
	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindSetHoldRequests, Acs: "a1", Cpe: "c1", Flag: &on}).Status)
	assert.True(cpe.HoldRequests)

	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindSetSyncMode, Acs: "a1", Cpe: "c1", Flag: &on}).Status)
	assert.True(cpe.SyncMode)
	assert.Empty(ctl.woken)
	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindSetSyncMode, Acs: "a1", Cpe: "c1", Flag: &off}).Status)
	assert.Equal([]string{"c1"}, ctl.woken)

	resp := d.Handle(&Request{Kind: KindInjectHTTPResponse, Acs: "a1", Code: 302, Location: "http://elsewhere/"})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal(302, acs.HTTPResponse.Code)
	resp = d.Handle(&Request{Kind: KindInjectHTTPResponse, Acs: "a1", Cpe: "c1", Code: 503})
	assert.Equal(StatusOK, resp.Status)
	assert.Equal(503, cpe.HTTPResponse.Code)
	assert.Equal([]string{"a1", "a1/c1"}, ctl.answered)

	long := strings.Repeat("x", models.MaxLocationLen+1)
	resp = d.Handle(&Request{Kind: KindInjectHTTPResponse, Acs: "a1", Cpe: "c1", Code: 302, Location: long})
	assert.Equal(StatusInvalid, resp.Status)
	assert.Equal(StatusBadMessage, d.Handle(&Request{Kind: KindInjectHTTPResponse, Acs: "a1", Code: 700}).Status)

	resp = d.Handle(&Request{Kind: KindInjectHTTPResponse, Acs: "a1", Cpe: "c1"})
	assert.Equal(StatusOK, resp.Status)
	assert.Nil(cpe.HTTPResponse)

	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindDisableCpe, Acs: "a1", Cpe: "c1"}).Status)
	assert.Equal(StatusOK, d.Handle(&Request{Kind: KindDisableCpe, Acs: "a1", Cpe: "c1"}).Status)
	assert.Equal("0", obtain(d, "a1", "c1", "enabled").Value)
	assert.Equal(StatusOK, modify(d, "a1", "c1", "enabled", "1").Status)
	assert.True(cpe.Enabled)

	ctl.state = models.SessionPending
	assert.Equal("PENDING", d.Handle(&Request{Kind: KindSessionState, Acs: "a1", Cpe: "c1"}).Value)
}

func TestHandleFrame(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)

	var resp Response
	assert.NoError(json.Unmarshal(d.HandleFrame([]byte("{not json")), &resp))
	assert.Equal(StatusBadMessage, resp.Status)

	assert.NoError(json.Unmarshal(d.HandleFrame([]byte(`{"kind":"launch_rockets"}`)), &resp))
	assert.Equal(StatusBadMessage, resp.Status)

	assert.NoError(json.Unmarshal(d.HandleFrame([]byte(`{"kind":"config_list"}`)), &resp))
	assert.Equal(StatusOK, resp.Status)
	assert.Equal([]string{"a1"}, resp.List)
}

func TestFraming(t *testing.T) {
	assert := require.New(t)

	var buf bytes.Buffer
	assert.NoError(WriteMessage(&buf, &Request{Kind: KindConfigList}))
	assert.NoError(WriteMessage(&buf, &Request{Kind: KindSessionState, Acs: "a1", Cpe: "c1"}))
	raw := buf.Bytes()

	var rd FrameReader
	var frames [][]byte
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		rd.Feed(raw[i:end])
		for {
			f, err := rd.Next()
			assert.NoError(err)
			if f == nil {
				break
			}
			frames = append(frames, f)
		}
	}
	assert.Len(frames, 2)
	assert.Zero(rd.Buffered())
	var req Request
	assert.NoError(json.Unmarshal(frames[1], &req))
	assert.Equal(KindSessionState, req.Kind)

	var wr FrameWriter
	assert.NoError(wr.Queue([]byte("hello")))
	var out bytes.Buffer
	calls := 0
	err := wr.Flush(func(b []byte) (int, error) {
		calls++
		if calls == 1 {
			out.Write(b[:2])
			return 2, errTryAgain
		}
		out.Write(b)
		return len(b), nil
	})
	assert.ErrorIs(err, errTryAgain)
	assert.Equal(7, wr.Pending())
	assert.NoError(wr.Flush(func(b []byte) (int, error) { out.Write(b); return len(b), nil }))
	assert.Equal([]byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, out.Bytes())

	rd = FrameReader{}
	rd.Feed([]byte{0xff, 0xff, 0xff, 0xff})
	_, err = rd.Next()
	assert.ErrorIs(err, ErrFrameTooLarge)
}

var errTryAgain = fmt.Errorf("try again")

func TestStreamSocket(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)

	loop, err := eventloop.New(eventloop.Options{PollTimeout: 20 * time.Millisecond, Persistent: true})
	assert.NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	path := filepath.Join(t.TempDir(), "epc.sock")
	execCtx, execCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer execCancel()
	assert.NoError(loop.Exec(execCtx, func() {
		_, err = Listen(loop, d, path)
	}))
	assert.NoError(err)

	cl, err := Dial(execCtx, path)
	assert.NoError(err)
	defer cl.Close()

	_, err = cl.Call(execCtx, &Request{Kind: KindConfigAdd, Acs: "a2"})
	assert.NoError(err)
	resp, err := cl.Do(execCtx, &Request{Kind: KindConfigList})
	assert.NoError(err)
	assert.Equal([]string{"a1", "a2"}, resp.List)

	id, err := cl.Enqueue(execCtx, "a1", "c1", "reboot", &cwmp.Reboot{CommandKey: "k"})
	assert.NoError(err)
	assert.Equal(uint32(1), id)

	_, err = cl.Call(execCtx, &Request{Kind: KindReadResult, Acs: "a1", Cpe: "c1", RequestID: id})
	var se *CallError
	assert.ErrorAs(err, &se)
	assert.Equal(StatusNotReady, se.Status)
}

func TestStreamPeerHalfClosed(t *testing.T) {
	assert := require.New(t)
	d, _ := newDispatcher(t)

	c := &streamConn{disp: d, fd: -1, id: 1}
	var pfd eventloop.PollFd
	assert.NoError(c.BeforePoll(&pfd))
	assert.Equal(int16(eventloop.PollIn), pfd.Events)

	assert.NoError(c.wr.Queue([]byte(`{"status":"ok"}`)))
	c.eof = true
	assert.NoError(c.BeforePoll(&pfd))
	assert.Equal(int16(eventloop.PollOut), pfd.Events)

	c.wr = FrameWriter{}
	assert.NoError(c.BeforePoll(&pfd))
	assert.Zero(pfd.Events)
}
