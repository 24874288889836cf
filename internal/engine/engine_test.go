package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/oktetlabs/test-environment-sub007/internal/config"
	"github.com/oktetlabs/test-environment-sub007/internal/epc"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestBootstrapAndRun(t *testing.T) {
	assert := require.New(t)

	port := freePort(t)
	yml := `
server:
  poll_timeout: 20ms
acs:
  - name: lab
    port: ` + strconv.Itoa(port) + `
    url: /acs
    enabled: true
    cpes:
      - name: box
        login: alice
        password: s3cret
        cr_url: http://127.0.0.1:1/cr
        sync_mode: true
  - name: spare
`
	t.Setenv("ACSE_EPC_SOCKET", "")
	cfg, err := config.Parse([]byte(yml))
	assert.NoError(err)
	cfg.EPC.Socket = filepath.Join(t.TempDir(), "epc.sock")

	e, err := New(cfg, Options{Fs: afero.NewMemMapFs()})
	assert.NoError(err)
	assert.NoError(e.Bootstrap())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var c *epc.Client
	assert.Eventually(func() bool {
		c, err = epc.Dial(context.Background(), cfg.EPC.Socket)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer c.Close()

	call := func(req *epc.Request) *epc.Response {
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rcancel()
		resp, err := c.Do(rctx, req)
		assert.NoError(err)
		return resp
	}

	resp := call(&epc.Request{Kind: epc.KindConfigList})
	assert.Equal([]string{"lab", "spare"}, resp.List)

	resp = call(&epc.Request{Kind: epc.KindConfigObtain, Acs: "lab", Cpe: "box", Field: "login"})
	assert.Equal(epc.StatusOK, resp.Status)
	assert.Equal("alice", resp.Value)

	resp = call(&epc.Request{Kind: epc.KindConfigObtain, Acs: "lab", Cpe: "box", Field: "sync_mode"})
	assert.Equal("1", resp.Value)

	resp = call(&epc.Request{Kind: epc.KindConfigObtain, Acs: "lab", Field: "enabled"})
	assert.Equal("1", resp.Value)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	assert.NoError(err)
	conn.Close()

	// The CR target refuses connections, so the request ends in fail.
	resp = call(&epc.Request{Kind: epc.KindConnectionRequest, Acs: "lab", Cpe: "box"})
	assert.Equal(epc.StatusOK, resp.Status)
	assert.Equal("pending", resp.Value)
	assert.Eventually(func() bool {
		r := call(&epc.Request{Kind: epc.KindGetCRState, Acs: "lab", Cpe: "box"})
		return r.Value == "fail"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
	}
	_, err = os.Stat(cfg.EPC.Socket)
	assert.True(errors.Is(err, os.ErrNotExist))
}

func TestBootstrapError(t *testing.T) {
	assert := require.New(t)

	cfg := config.Default()
	cfg.Acs = []config.AcsConfig{{Name: "lab", AuthMode: "kerberos"}}
	e, err := New(cfg, Options{})
	assert.NoError(err)
	assert.ErrorContains(e.Bootstrap(), "auth_mode")
}
