// Package engine assembles the emulator: one event loop owning the
// repository, the CWMP gateway and the EPC dispatcher, plus the bridges that
// reach the loop from other goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/oktetlabs/test-environment-sub007/internal/api"
	"github.com/oktetlabs/test-environment-sub007/internal/config"
	"github.com/oktetlabs/test-environment-sub007/internal/connreq"
	"github.com/oktetlabs/test-environment-sub007/internal/epc"
	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/gateway"
	"github.com/oktetlabs/test-environment-sub007/internal/integration"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/server"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
)

// Engine is one running emulator instance.
type Engine struct {
	cfg *config.Config

	Loop       *eventloop.Loop
	Repo       *storage.Repository
	Gateway    *gateway.Server
	Dispatcher *epc.Dispatcher
	Metrics    *metrics.Metrics
	Forwarder  *integration.ForwarderService
	Store      storage.Store

	nc     *nats.Conn
	stream *epc.StreamListener
	rest   *api.RESTServer
}

// Options carries what is not in the configuration file.
type Options struct {
	// Fs serves CPE file downloads; nil means the host filesystem.
	Fs afero.Fs
	// NATS overrides the connection made from the configuration.
	NATS *nats.Conn
}

// New builds an engine. Nothing listens until Run.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	loop, err := eventloop.New(eventloop.Options{PollTimeout: cfg.Server.PollTimeout, Persistent: true})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		Loop:    loop,
		Repo:    storage.NewRepository(),
		Metrics: metrics.New(),
		nc:      opts.NATS,
	}

	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Database.DSN,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(context.Background()); err != nil {
			pg.Close()
			return nil, err
		}
		e.Store = pg
	} else {
		e.Store = storage.NewMemoryStore(cfg.Events.MemoryCapacity)
	}

	if e.nc == nil && cfg.NATS.URL != "" {
		e.nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.ClientID),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects))
		if err != nil {
			e.Store.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
	}

	e.Forwarder = integration.NewForwarderService(integration.Options{
		QueueSize:    cfg.Events.QueueSize,
		Store:        e.Store,
		NATS:         e.nc,
		EventSubject: cfg.NATS.EventSubject,
		MQTT:         cfg.MQTT,
		Webhook:      cfg.Webhook,
		Metrics:      e.Metrics,
	})

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	e.Gateway = gateway.NewServer(loop, e.Repo, fsys, e.Forwarder, e.Metrics, gateway.Options{
		TLSHandshakeTimeout: cfg.Session.TLSHandshakeTimeout,
		WriteTimeout:        cfg.Session.WriteTimeout,
		ArenaLimit:          cfg.Session.ArenaLimit,
		MaxRequestSize:      cfg.Session.MaxRequestSize,
	})
	e.Dispatcher = epc.NewDispatcher(e.Repo, e.Gateway, e.Forwarder, e.Metrics)
	e.Dispatcher.SetConnRequester(connreq.New(loop, e.Forwarder, e.Metrics, cfg.Session.ConnReqTimeout))

	if cfg.API.Enabled {
		e.rest = api.NewRESTServer(cfg, api.Backend{
			Loop:       loop,
			Dispatcher: e.Dispatcher,
			Store:      e.Store,
			Hub:        e.Forwarder.Hub(),
			Metrics:    e.Metrics,
		})
	}
	return e, nil
}

// Bootstrap applies the ACS and CPE definitions of the configuration through
// the dispatcher. It must run before Run or on the loop goroutine.
func (e *Engine) Bootstrap() error {
	for _, a := range e.cfg.Acs {
		reqs := []*epc.Request{
			{Kind: epc.KindConfigAdd, Acs: a.Name},
			modify(a.Name, "", "url", a.URL),
			modify(a.Name, "", "port", strconv.Itoa(a.Port)),
			modify(a.Name, "", "auth_mode", a.AuthMode),
			modify(a.Name, "", "http_root", a.HTTPRoot),
			modify(a.Name, "", "cert", a.Cert),
			modify(a.Name, "", "ssl", strconv.FormatBool(a.SSL)),
			modify(a.Name, "", "traffic_log", strconv.FormatBool(a.TrafficLog)),
		}
		for _, c := range a.Cpes {
			reqs = append(reqs,
				&epc.Request{Kind: epc.KindConfigAdd, Acs: a.Name, Cpe: c.Name},
				modify(a.Name, c.Name, "login", c.Login),
				modify(a.Name, c.Name, "passwd", c.Password),
				modify(a.Name, c.Name, "cr_url", c.CRURL),
				modify(a.Name, c.Name, "cr_login", c.CRLogin),
				modify(a.Name, c.Name, "cr_passwd", c.CRPassword),
				modify(a.Name, c.Name, "hold_requests", strconv.FormatBool(c.HoldRequests)),
				modify(a.Name, c.Name, "sync_mode", strconv.FormatBool(c.SyncMode)),
				modify(a.Name, c.Name, "chunk_mode", strconv.FormatBool(c.ChunkMode)),
				modify(a.Name, c.Name, "traffic_log", strconv.FormatBool(c.TrafficLog)),
			)
		}
		if a.Enabled {
			reqs = append(reqs, &epc.Request{Kind: epc.KindEnableAcs, Acs: a.Name})
		}

		for _, req := range reqs {
			if err := e.Dispatcher.Handle(req).Err(); err != nil {
				return fmt.Errorf("bootstrap acs %s: %s %s %s: %w", a.Name, req.Kind, req.Cpe, req.Field, err)
			}
		}
		log.Info().Str("acs", a.Name).Int("cpes", len(a.Cpes)).Bool("enabled", a.Enabled).Msg("ACS configured")
	}
	return nil
}

func modify(acs, cpe, field, value string) *epc.Request {
	return &epc.Request{Kind: epc.KindConfigModify, Acs: acs, Cpe: cpe, Field: field, Value: value}
}

// Run opens the EPC socket and the optional bridges, then drives the loop
// until ctx is done or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	stream, err := epc.Listen(e.Loop, e.Dispatcher, e.cfg.EPC.Socket)
	if err != nil {
		e.close()
		return err
	}
	e.stream = stream

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", name).Msg("Component stopped")
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	spawn("forwarder", e.Forwarder.Start)
	if e.nc != nil {
		sub := server.NewNATSSubscriber(e.nc, e.Loop, e.Dispatcher, e.cfg.NATS.EPCSubject, e.cfg.NATS.RequestTimeout)
		spawn("nats", sub.Start)
	}
	if e.rest != nil {
		spawn("api", e.serveAPI)
	}

	log.Info().Str("epc", stream.Path()).Msg("ACS emulator running")
	loopErr := e.Loop.Run(ctx)
	cancel()
	wg.Wait()

	e.close()
	if loopErr != nil {
		return loopErr
	}
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func (e *Engine) serveAPI(ctx context.Context) error {
	addr := net.JoinHostPort(e.cfg.API.Host, strconv.Itoa(e.cfg.API.Port))
	done := make(chan error, 1)
	go func() { done <- e.rest.ListenAndServe(addr) }()
	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return e.rest.Shutdown(context.Background())
	}
}

func (e *Engine) close() {
	if e.nc != nil {
		e.nc.Drain()
	}
	if e.Store != nil {
		e.Store.Close()
	}
}
