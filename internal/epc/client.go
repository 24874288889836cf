package epc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// Client is a blocking EPC peer over a unix stream socket. It is safe for
// concurrent use; calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the EPC socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Do sends req and waits for its response. A non-ok status is returned in
// the response, not as an error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := WriteMessage(c.conn, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := ReadMessage(c.conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Call is Do that folds a non-ok status into the error.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// Enqueue queues an RPC of the given kind; payload is marshalled to JSON.
func (c *Client) Enqueue(ctx context.Context, acs, cpe, rpc string, payload any) (uint32, error) {
	req := &Request{Kind: KindEnqueueRpc, Acs: acs, Cpe: cpe, Rpc: rpc}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		req.Payload = data
	}
	resp, err := c.Call(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.RequestID, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
