// Package integration forwards ACS events to external systems: the event
// journal, NATS, an MQTT broker, an HTTP webhook and live websocket clients.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/oktetlabs/test-environment-sub007/internal/config"
	"github.com/oktetlabs/test-environment-sub007/internal/metrics"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
	"github.com/oktetlabs/test-environment-sub007/internal/storage"
)

// Options selects the forwarding targets. Zero values disable a target.
type Options struct {
	QueueSize int

	Store        storage.Store
	NATS         *nats.Conn
	EventSubject string
	MQTT         config.MQTTConfig
	Webhook      config.WebhookConfig

	Metrics *metrics.Metrics
}

// ForwarderService takes events from the loop through a bounded queue and
// delivers them on its own goroutine.
type ForwarderService struct {
	opts  Options
	queue chan *models.EventLog
	hub   *Hub

	mqttClient mqtt.Client
	httpClient *http.Client
}

// NewForwarderService creates the service; call Start to begin delivery.
func NewForwarderService(opts Options) *ForwarderService {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.EventSubject == "" {
		opts.EventSubject = "acse.event"
	}
	timeout := opts.Webhook.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ForwarderService{
		opts:       opts,
		queue:      make(chan *models.EventLog, opts.QueueSize),
		hub:        NewHub(),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Hub returns the live subscriber hub.
func (s *ForwarderService) Hub() *Hub {
	return s.hub
}

// Publish queues e without blocking. Events are dropped and counted when the
// queue is full.
func (s *ForwarderService) Publish(e *models.EventLog) {
	select {
	case s.queue <- e:
	default:
		s.opts.Metrics.EventDropped()
		log.Debug().Str("type", string(e.Type)).Msg("Event queue full, event dropped")
	}
}

// Start delivers events until ctx is done, then drains what is queued.
func (s *ForwarderService) Start(ctx context.Context) error {
	if s.opts.MQTT.Broker != "" {
		s.mqttClient = s.createMQTTClient()
	}
	log.Info().
		Bool("journal", s.opts.Store != nil).
		Bool("nats", s.opts.NATS != nil).
		Bool("mqtt", s.mqttClient != nil).
		Bool("webhook", s.opts.Webhook.URL != "").
		Msg("Event forwarder started")

	for {
		select {
		case e := <-s.queue:
			s.forward(ctx, e)
		case <-ctx.Done():
			s.drain()
			if s.mqttClient != nil && s.mqttClient.IsConnected() {
				s.mqttClient.Disconnect(250)
			}
			return nil
		}
	}
}

func (s *ForwarderService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.queue:
			s.forward(ctx, e)
		default:
			return
		}
	}
}

func (s *ForwarderService) forward(ctx context.Context, e *models.EventLog) {
	if s.opts.Store != nil {
		if err := s.opts.Store.CreateEventLog(ctx, e); err != nil {
			log.Error().Err(err).Msg("Failed to create event log")
		}
	}

	s.hub.broadcast(e)

	if s.opts.NATS == nil && s.mqttClient == nil && s.opts.Webhook.URL == "" {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	if s.opts.NATS != nil {
		subject := NATSSubject(s.opts.EventSubject, e)
		if err := s.opts.NATS.Publish(subject, data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event to NATS")
		}
	}
	if s.mqttClient != nil {
		s.forwardToMQTT(e, data)
	}
	if s.opts.Webhook.URL != "" {
		s.forwardToHTTP(ctx, data)
	}
}

// forwardToHTTP posts one event to the webhook. Failures are logged only.
func (s *ForwarderService) forwardToHTTP(ctx context.Context, data []byte) {
	cfg := s.opts.Webhook
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", cfg.URL).Msg("Failed to forward event to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().Int("status", resp.StatusCode).Str("endpoint", cfg.URL).Msg("HTTP forward failed")
	}
}

func (s *ForwarderService) forwardToMQTT(e *models.EventLog, data []byte) {
	topic := MQTTTopic(s.opts.MQTT.TopicPrefix, e)
	token := s.mqttClient.Publish(topic, s.opts.MQTT.QoS, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
	}
}

// createMQTTClient connects in the background; paho keeps retrying.
func (s *ForwarderService) createMQTTClient() mqtt.Client {
	cfg := s.opts.MQTT
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	client.Connect()
	return client
}

var (
	natsToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	mqttToken = strings.NewReplacer("/", "_", "+", "_", "#", "_")
)

func token(r *strings.Replacer, s string) string {
	if s == "" {
		return "_"
	}
	return r.Replace(s)
}

// NATSSubject returns "<prefix>.<acs>.<cpe>.<type>".
func NATSSubject(prefix string, e *models.EventLog) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix,
		token(natsToken, e.Acs), token(natsToken, e.Cpe), token(natsToken, string(e.Type)))
}

// MQTTTopic returns "<prefix>/<acs>/<cpe>/<type>".
func MQTTTopic(prefix string, e *models.EventLog) string {
	return fmt.Sprintf("%s/%s/%s/%s", prefix,
		token(mqttToken, e.Acs), token(mqttToken, e.Cpe), token(mqttToken, string(e.Type)))
}
