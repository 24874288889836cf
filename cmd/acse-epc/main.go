// Command acse-epc sends one EPC request to a running emulator, over its
// unix socket or over NATS, and prints the JSON response.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/server"
)

func main() {
	var (
		socket    = flag.String("socket", envOr("ACSE_EPC_SOCKET", "/tmp/acse-epc.sock"), "EPC socket path")
		natsURL   = flag.String("nats", os.Getenv("NATS_URL"), "use NATS at this URL instead of the socket")
		subject   = flag.String("subject", "acse.epc", "NATS EPC subject")
		timeout   = flag.Duration("timeout", 5*time.Second, "request timeout")
		kind      = flag.String("kind", "", "request kind, e.g. enqueue_rpc, config_list")
		acs       = flag.String("acs", "", "ACS name")
		cpe       = flag.String("cpe", "", "CPE name")
		rpc       = flag.String("rpc", "", "RPC kind")
		requestID = flag.Uint("id", 0, "request id")
		payload   = flag.String("payload", "", "JSON payload")
		field     = flag.String("field", "", "configuration field")
		value     = flag.String("value", "", "configuration value")
		flagVal   = flag.String("flag", "", "boolean argument (1/0)")
		code      = flag.Int("code", 0, "HTTP response code")
		location  = flag.String("location", "", "HTTP response Location")
		raw       = flag.String("request", "", "full JSON request; overrides the other request flags")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	req := &epc.Request{
		Kind:      epc.Kind(*kind),
		Acs:       *acs,
		Cpe:       *cpe,
		Rpc:       *rpc,
		RequestID: uint32(*requestID),
		Field:     *field,
		Value:     *value,
		Code:      *code,
		Location:  *location,
	}
	if *payload != "" {
		req.Payload = json.RawMessage(*payload)
	}
	if *flagVal != "" {
		b := *flagVal == "1" || *flagVal == "true"
		req.Flag = &b
	}
	if *raw != "" {
		req = &epc.Request{}
		if err := json.Unmarshal([]byte(*raw), req); err != nil {
			log.Fatal().Err(err).Msg("Invalid request JSON")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var resp *epc.Response
	var err error
	if *natsURL != "" {
		var nc *nats.Conn
		nc, err = nats.Connect(*natsURL, nats.Name("acse-epc"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		resp, err = server.Request(ctx, nc, *subject, req)
	} else {
		var c *epc.Client
		c, err = epc.Dial(ctx, *socket)
		if err != nil {
			log.Fatal().Err(err).Str("socket", *socket).Msg("Failed to connect")
		}
		defer c.Close()
		resp, err = c.Do(ctx, req)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("EPC request failed")
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	if resp.Status != epc.StatusOK {
		os.Exit(2)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
