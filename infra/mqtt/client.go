// Package mqtt implements the device actuator, the battery sensor and the
// projection publisher on top of an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/erg/core/reconcile"
	"github.com/kilianp07/erg/infra/logger"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Config defines the connection parameters and topic layout.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// StateMaxAgeS bounds how long a reported device state is trusted.
	StateMaxAgeS int `json:"state_max_age_s"`

	StatePrefix      string `json:"state_prefix"`
	CommandPrefix    string `json:"command_prefix"`
	ProjectionPrefix string `json:"projection_prefix"`
	// SoCTopic carries the battery state of charge as a bare number in
	// SoCUnit ("%" or "kWh").
	SoCTopic string `json:"soc_topic"`
	SoCUnit  string `json:"soc_unit"`

	TLSConfig *tls.Config `json:"-"`
}

// SetDefaults fills in the topic layout and retry policy.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "erg"
	}
	if c.StatePrefix == "" {
		c.StatePrefix = "erg/state"
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "erg/command"
	}
	if c.ProjectionPrefix == "" {
		c.ProjectionPrefix = "erg/projection"
	}
	if c.SoCUnit == "" {
		c.SoCUnit = "%"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.StateMaxAgeS <= 0 {
		c.StateMaxAgeS = 600
	}
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient is the MQTT connection shared by the actuator, the SoC sensor
// and the projection publisher.
type PahoClient struct {
	cli     pahoClient
	cfg     Config
	logger  logger.Logger
	backoff time.Duration
	maxAge  time.Duration

	mu     sync.RWMutex
	states map[string]stateEntry
	soc    socReading

	// capacity converts percentage SoC readings to kWh.
	capacity float64
	now      func() time.Time
}

type stateEntry struct {
	state reconcile.DeviceState
	at    time.Time
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the broker and subscribes to the device state
// and SoC topics. batteryCapacity is used to convert percentage SoC.
func NewPahoClient(cfg Config, batteryCapacity float64) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		cfg:      cfg,
		logger:   log,
		backoff:  time.Duration(cfg.BackoffMS) * time.Millisecond,
		maxAge:   time.Duration(cfg.StateMaxAgeS) * time.Second,
		states:   make(map[string]stateEntry),
		capacity: batteryCapacity,
		now:      time.Now,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.subscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
		pc.forgetStates()
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

func (p *PahoClient) subscribe(c pahoClient) {
	topic := p.cfg.StatePrefix + "/#"
	if token := c.Subscribe(topic, p.qos("state"), p.onState); token.Wait() && token.Error() != nil {
		p.logger.Errorf("subscribe %s: %v", topic, token.Error())
	}
	if p.cfg.SoCTopic == "" {
		return
	}
	if token := c.Subscribe(p.cfg.SoCTopic, p.qos("soc"), p.onSoC); token.Wait() && token.Error() != nil {
		p.logger.Errorf("subscribe %s: %v", p.cfg.SoCTopic, token.Error())
	}
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qos(kind string) byte {
	if q, ok := p.cfg.QoS[kind]; ok {
		return q
	}
	return 0
}

// publish sends payload, retrying up to retries times with exponential
// backoff. It gives up early when ctx is done.
func (p *PahoClient) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte, retries int) error {
	if p.cli == nil || !p.cli.IsConnected() {
		return ErrNotConnected
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		select {
		case <-token.Done():
			err = token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		p.logger.Errorf("publish %s attempt %d failed: %v", topic, attempt+1, err)
		if attempt == retries {
			break
		}
		select {
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("publish %s: %w", topic, err)
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
