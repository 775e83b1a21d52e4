// Copyright 2026 The LinkMQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dynreg registers a device on the platform with the product secret and returns the
// credential the device uses to connect afterwards.
//
// In whitelist mode the device was pre-registered and the platform answers with its device
// secret. Otherwise the platform answers with a connection identity (client ID, username and
// password).
package dynreg

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/rs/xid"
	"go.uber.org/multierr"
)

// Topics where the platform delivers the registration result.
const (
	TopicWhitelist   = "/ext/register"
	TopicNoWhitelist = "/ext/regnwl"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultReceiveTimeout = 30 * time.Second
	defaultRetryInterval  = time.Second
)

var (
	// ErrMissingProductSecret indicates that the product secret was not configured.
	ErrMissingProductSecret = &mqtt.StateError{
		Code:   -0x0D01,
		Kind:   mqtt.KindConfig,
		Reason: "missing product secret",
	}

	// ErrRegisterTimeout indicates that the platform did not answer the registration in time.
	ErrRegisterTimeout = &mqtt.StateError{Code: -0x0D02, Kind: mqtt.KindConnect, Reason: "register timeout"}

	// ErrInvalidResponse indicates that the registration result could not be parsed.
	ErrInvalidResponse = &mqtt.StateError{Code: -0x0D03, Kind: mqtt.KindConnect, Reason: "invalid register response"}
)

// Transport is the MQTT handle used for the registration connection.
type Transport interface {
	Connect(ctx context.Context) error
	Receive() error
	Disconnect() error
	Deinit() error
	SetHost(host string) error
	SetPort(port int) error
	SetClientID(id string) error
	SetUsername(username string) error
	SetPassword(password string) error
	SetTLSConfig(conf *tls.Config) error
	SetReceiveTimeout(d time.Duration) error
	SetHandler(h mqtt.Handler) error
}

// Config contains the registration parameters.
type Config struct {
	Host          string
	Port          int
	ProductKey    string
	DeviceName    string
	ProductSecret string

	// Whitelist indicates whether the device was pre-registered on the platform.
	Whitelist bool

	// TLSConfig is the TLS configuration of the connection.
	TLSConfig *tls.Config

	// Timeout is the maximum amount of time to wait for the result. Default is 60 seconds.
	Timeout time.Duration

	// ReceiveTimeout is the maximum amount of time each receive waits. Default is 30 seconds.
	ReceiveTimeout time.Duration
}

// Result is the credential returned by the platform.
type Result struct {
	ProductKey string `yaml:"product_key"`
	DeviceName string `yaml:"device_name"`

	// DeviceSecret is returned in whitelist mode.
	DeviceSecret string `yaml:"device_secret,omitempty" json:"deviceSecret"`

	// ClientID, Username and Password are returned without whitelist.
	ClientID string `yaml:"client_id,omitempty" json:"clientId"`
	Username string `yaml:"username,omitempty" json:"username"`
	Password string `yaml:"password,omitempty" json:"password"`
}

// Whitelist returns whether the result is a device secret.
func (r Result) Whitelist() bool {
	return r.DeviceSecret != ""
}

// Identity builds the registration identity.
//
// The client ID is "{dn}.{pk}|random={random},authType={register|regnwl},securemode=2,
// signmethod=hmacsha256|", the username is "{dn}&{pk}" and the password is the hex encoded
// HMAC-SHA256 of "deviceName{dn}productKey{pk}random{random}" with the product secret as key.
func Identity(conf Config, random string) mqtt.Identity {
	authType := "regnwl"
	if conf.Whitelist {
		authType = "register"
	}

	content := "deviceName" + conf.DeviceName + "productKey" + conf.ProductKey + "random" + random
	return mqtt.Identity{
		ClientID: fmt.Sprintf("%s.%s|random=%s,authType=%s,securemode=%s,signmethod=hmacsha256|",
			conf.DeviceName, conf.ProductKey, random, authType, mqtt.SecurityModeTLS),
		Username: conf.DeviceName + "&" + conf.ProductKey,
		Password: mqtt.HMACSHA256(conf.ProductSecret, content),
	}
}

// OptionFn is a function responsible to inject an option inside the Client.
type OptionFn func(c *Client)

// WithLogger is an option function to inject the logger.Logger inside the Client.
func WithLogger(l *logger.Logger) OptionFn {
	return func(c *Client) {
		c.log = l
	}
}

// WithRetryInterval is an option function to set the time the Client waits after a failed
// receive.
func WithRetryInterval(d time.Duration) OptionFn {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// Client performs the dynamic registration over a dedicated Transport.
type Client struct {
	log           *logger.Logger
	transport     Transport
	random        func() string
	retryInterval time.Duration
}

// New creates a Client which registers through the transport. The transport is released by
// Register.
func New(t Transport, opts ...OptionFn) *Client {
	c := &Client{
		transport:     t,
		random:        func() string { return xid.New().String() },
		retryInterval: defaultRetryInterval,
	}

	for _, fn := range opts {
		fn(c)
	}

	if c.log == nil {
		c.log = logger.New(io.Discard, nil, logger.JSON)
	}
	c.log = c.log.WithPrefix("dynreg")
	return c
}

// Register connects to the platform, waits for the registration result, and releases the
// transport.
func (c *Client) Register(ctx context.Context, conf Config) (res Result, err error) {
	defer func() {
		err = multierr.Append(err, c.transport.Deinit())
	}()

	if err = validate(conf); err != nil {
		return Result{}, err
	}
	if conf.Timeout <= 0 {
		conf.Timeout = defaultTimeout
	}
	if conf.ReceiveTimeout <= 0 {
		conf.ReceiveTimeout = defaultReceiveTimeout
	}

	rcv := &receiver{log: c.log, conf: conf, results: make(chan Result, 1),
		errs: make(chan error, 1)}
	if err = c.configure(conf, rcv); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, conf.Timeout)
	defer cancel()

	if err = c.transport.Connect(ctx); err != nil {
		c.log.Error().
			Str("Host", conf.Host).
			Str("ProductKey", conf.ProductKey).
			Str("DeviceName", conf.DeviceName).
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Failed to connect for registration: " + err.Error())
		return Result{}, err
	}
	c.log.Info().
		Str("ProductKey", conf.ProductKey).
		Str("DeviceName", conf.DeviceName).
		Bool("Whitelist", conf.Whitelist).
		Msg("Waiting for registration result")

	res, err = c.wait(ctx, rcv, conf.ReceiveTimeout)
	return res, multierr.Append(err, c.transport.Disconnect())
}

func (c *Client) configure(conf Config, rcv *receiver) error {
	id := Identity(conf, c.random())

	setters := []struct {
		name string
		set  func() error
	}{
		{"host", func() error { return c.transport.SetHost(conf.Host) }},
		{"port", func() error { return c.transport.SetPort(conf.Port) }},
		{"client id", func() error { return c.transport.SetClientID(id.ClientID) }},
		{"username", func() error { return c.transport.SetUsername(id.Username) }},
		{"password", func() error { return c.transport.SetPassword(id.Password) }},
		{"TLS config", func() error { return c.transport.SetTLSConfig(conf.TLSConfig) }},
		{"receive timeout", func() error { return c.transport.SetReceiveTimeout(conf.ReceiveTimeout) }},
		{"handler", func() error { return c.transport.SetHandler(rcv) }},
	}

	for _, s := range setters {
		if err := s.set(); err != nil {
			return fmt.Errorf("failed to set %s: %w", s.name, err)
		}
	}
	return nil
}

// wait receives until the result arrives or the context is done. The receive timeout is
// lowered to the time left, so the last receive does not outlive the deadline.
func (c *Client) wait(ctx context.Context, rcv *receiver, timeout time.Duration) (Result, error) {
	for {
		select {
		case res := <-rcv.results:
			return res, nil
		case err := <-rcv.errs:
			return Result{}, err
		case <-ctx.Done():
			return Result{}, ErrRegisterTimeout
		default:
		}

		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left > 0 && left < timeout {
				timeout = left
				if err := c.transport.SetReceiveTimeout(timeout); err != nil {
					return Result{}, fmt.Errorf("failed to set receive timeout: %w", err)
				}
			}
		}

		err := c.transport.Receive()
		if errors.Is(err, mqtt.ErrExecDisabled) {
			return Result{}, err
		}
		if err != nil {
			c.log.Debug().Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).Msg("Receive failed: " +
				err.Error())
			if !c.sleep(ctx) {
				return Result{}, ErrRegisterTimeout
			}
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func validate(conf Config) error {
	switch {
	case conf.Host == "":
		return mqtt.ErrMissingHost
	case conf.ProductKey == "":
		return mqtt.ErrMissingProductKey
	case conf.DeviceName == "":
		return mqtt.ErrMissingDeviceName
	case conf.ProductSecret == "":
		return ErrMissingProductSecret
	}
	return nil
}

// receiver copies the registration result out of the message callback.
type receiver struct {
	log     *logger.Logger
	conf    Config
	results chan Result
	errs    chan error
}

func (r *receiver) OnEvent(e mqtt.Event) {
	r.log.Debug().Str("Type", e.Type.String()).Msg("Registration connection event")
}

func (r *receiver) OnMessage(m mqtt.Message) {
	if m.Kind != mqtt.MessagePublish {
		return
	}

	var want string
	if r.conf.Whitelist {
		want = TopicWhitelist
	} else {
		want = TopicNoWhitelist
	}
	if m.Topic != want {
		r.log.Debug().Str("Topic", m.Topic).Msg("Message ignored")
		return
	}

	res := Result{ProductKey: r.conf.ProductKey, DeviceName: r.conf.DeviceName}
	if err := json.Unmarshal(m.Payload, &res); err != nil {
		r.fail(ErrInvalidResponse.WithReason(err.Error()))
		return
	}

	if r.conf.Whitelist && res.DeviceSecret == "" {
		r.fail(ErrInvalidResponse.WithReason("missing device secret"))
		return
	}
	if !r.conf.Whitelist && (res.ClientID == "" || res.Username == "" || res.Password == "") {
		r.fail(ErrInvalidResponse.WithReason("missing connection identity"))
		return
	}

	select {
	case r.results <- res:
	default:
	}
}

func (r *receiver) fail(err error) {
	r.log.Warn().Msg("Invalid registration result: " + err.Error())
	select {
	case r.errs <- err:
	default:
	}
}
