package rpcqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

func TestFifoOrder(t *testing.T) {
	assert := require.New(t)
	q := New()

	a, err := q.Enqueue(cwmp.RpcGetParameterNames, &cwmp.GetParameterNames{ParameterPath: "Device."}, 64)
	assert.NoError(err)
	b, err := q.Enqueue(cwmp.RpcReboot, &cwmp.Reboot{}, 16)
	assert.NoError(err)
	assert.Less(a.RequestID, b.RequestID)
	assert.Equal(2, q.Pending())

	assert.Same(a, q.PopPending())
	assert.Same(b, q.PopPending())
	assert.Nil(q.PopPending())
	assert.Nil(q.PopPending())
}

func TestResultLifecycle(t *testing.T) {
	assert := require.New(t)
	base := arena.LiveBytes()
	q := New()

	it, err := q.Enqueue(cwmp.RpcReboot, &cwmp.Reboot{CommandKey: "k"}, 32)
	assert.NoError(err)

	_, err = q.ReadResult(it.RequestID)
	assert.ErrorIs(err, ErrNotReady)
	_, err = q.ReadResult(0)
	assert.ErrorIs(err, ErrNotReady)

	assert.Same(it, q.PopPending())
	q.AttachAwaiting(it)
	_, err = q.ReadResult(0)
	assert.ErrorIs(err, ErrNotReady)

	assert.NoError(q.Complete(it, &cwmp.RebootResponse{}, 16))
	got, err := q.ReadResult(0)
	assert.NoError(err)
	assert.Same(it, got)
	assert.Equal(&cwmp.RebootResponse{}, got.Response)
	assert.Equal(0, q.Results())

	_, err = q.ReadResult(it.RequestID)
	assert.ErrorIs(err, ErrNoSuchRpc)

	got.Release()
	assert.Equal(base, arena.LiveBytes())
}

func TestFaultAndReceived(t *testing.T) {
	assert := require.New(t)
	q := New()

	it, err := q.Enqueue(cwmp.RpcGetParameterValues, &cwmp.GetParameterValues{}, 8)
	assert.NoError(err)
	q.PopPending()
	q.AttachAwaiting(it)

	rec, err := q.AddReceived(cwmp.AcsRpcInform, &cwmp.Inform{}, 128)
	assert.NoError(err)
	assert.True(rec.Received())
	assert.Greater(rec.RequestID, it.RequestID)

	q.CompleteFault(it, &cwmp.Fault{FaultCode: 9005, FaultString: "bad name"})
	got, err := q.ReadResult(0)
	assert.NoError(err)
	assert.Equal(cwmp.RpcFault, got.Kind)
	assert.Equal(uint32(9005), got.Fault.FaultCode)
	got.Release()

	_, err = q.ReadReceived(cwmp.AcsRpcTransferComplete)
	assert.ErrorIs(err, ErrNotReady)
	got, err = q.ReadReceived(cwmp.AcsRpcInform)
	assert.NoError(err)
	assert.Same(rec, got)
	got.Release()
}

func TestResetFreesEverything(t *testing.T) {
	assert := require.New(t)
	base := arena.LiveBytes()
	q := New()

	_, err := q.Enqueue(cwmp.RpcFactoryReset, &cwmp.FactoryReset{}, 10)
	assert.NoError(err)
	sent, err := q.Enqueue(cwmp.RpcReboot, &cwmp.Reboot{}, 10)
	assert.NoError(err)
	_, err = q.AddReceived(cwmp.AcsRpcKicked, &cwmp.Kicked{}, 10)
	assert.NoError(err)

	q.AttachAwaiting(q.PopPending())
	assert.Equal(uint32(2), sent.RequestID)
	assert.Equal(1, q.Pending())
	assert.Equal(2, q.Results())

	q.Reset()
	assert.Equal(0, q.Pending())
	assert.Equal(0, q.Results())
	assert.Equal(base, arena.LiveBytes())

	next, err := q.Enqueue(cwmp.RpcNone, nil, 0)
	assert.NoError(err)
	assert.Equal(uint32(4), next.RequestID)
}
