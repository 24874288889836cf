package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/gateway"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
)

func serveJSON(t *testing.T, s *NATSSubscriber, req *epc.Request) *epc.Response {
	data, err := json.Marshal(req)
	require.NoError(t, err)
	var resp epc.Response
	require.NoError(t, json.Unmarshal(s.serve(data), &resp))
	return &resp
}

func TestServeOnLoop(t *testing.T) {
	assert := require.New(t)

	loop, err := eventloop.New(eventloop.Options{PollTimeout: 20 * time.Millisecond, Persistent: true})
	assert.NoError(err)
	repo := storage.NewRepository()
	disp := epc.NewDispatcher(repo, gateway.NewServer(loop, repo, nil, nil, nil, gateway.Options{}), nil, nil)
	s := NewNATSSubscriber(nil, loop, disp, "acse.epc", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	resp := serveJSON(t, s, &epc.Request{Kind: epc.KindConfigAdd, Acs: "a1"})
	assert.Equal(epc.StatusOK, resp.Status)

	resp = serveJSON(t, s, &epc.Request{Kind: epc.KindConfigList})
	assert.Equal(epc.StatusOK, resp.Status)
	assert.Equal([]string{"a1"}, resp.List)

	resp = serveJSON(t, s, &epc.Request{Kind: epc.KindConfigObtain, Acs: "zz", Field: "url"})
	assert.Equal(epc.StatusNoSuchAcs, resp.Status)

	var bad epc.Response
	assert.NoError(json.Unmarshal(s.serve([]byte("{")), &bad))
	assert.Equal(epc.StatusBadMessage, bad.Status)

	cancel()
	<-done

	resp = serveJSON(t, s, &epc.Request{Kind: epc.KindConfigList})
	assert.Equal(epc.StatusError, resp.Status)
}
