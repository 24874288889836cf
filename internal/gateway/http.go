package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

const maxHeaderBytes = 16 << 10

var crlfcrlf = []byte("\r\n\r\n")

// parseRequest extracts one complete HTTP request from the front of buf.
// It returns a nil request when more bytes are needed, and the number of
// bytes the request occupied otherwise.
func parseRequest(buf []byte, maxBody int) (*http.Request, []byte, int, error) {
	if bytes.Index(buf, crlfcrlf) < 0 {
		if len(buf) > maxHeaderBytes {
			return nil, nil, 0, fmt.Errorf("%w: header larger than %d bytes", ErrProtocol, maxHeaderBytes)
		}
		return nil, nil, 0, nil
	}

	src := bytes.NewReader(buf)
	br := bufio.NewReader(src)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if req.ContentLength > int64(maxBody) {
		return nil, nil, 0, fmt.Errorf("%w: body of %d bytes", ErrProtocol, req.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, int64(maxBody)+1))
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, nil, 0, nil
	case err != nil:
		return nil, nil, 0, fmt.Errorf("%w: body: %v", ErrProtocol, err)
	case len(body) > maxBody:
		return nil, nil, 0, fmt.Errorf("%w: body larger than %d bytes", ErrProtocol, maxBody)
	}

	consumed := len(buf) - src.Len() - br.Buffered()
	return req, body, consumed, nil
}

// response is an HTTP/1.1 reply under construction.
type response struct {
	code    int
	header  http.Header
	body    []byte
	chunked bool
	close   bool
	// length overrides len(body) for replies whose body is streamed later.
	length int64
}

func newResponse(code int) *response {
	return &response{code: code, header: make(http.Header), length: -1}
}

func (r *response) encode(w *bytes.Buffer) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.code, http.StatusText(r.code))

	if r.close {
		r.header.Set("Connection", "close")
	} else {
		r.header.Set("Connection", "keep-alive")
	}
	switch {
	case r.chunked && len(r.body) > 0:
		r.header.Set("Transfer-Encoding", "chunked")
	case r.length >= 0:
		r.header.Set("Content-Length", strconv.FormatInt(r.length, 10))
	case r.code != http.StatusNoContent:
		r.header.Set("Content-Length", strconv.Itoa(len(r.body)))
	}
	_ = r.header.Write(w)
	w.WriteString("\r\n")

	if r.chunked && len(r.body) > 0 {
		fmt.Fprintf(w, "%x\r\n", len(r.body))
		w.Write(r.body)
		w.WriteString("\r\n0\r\n\r\n")
		return
	}
	w.Write(r.body)
}
