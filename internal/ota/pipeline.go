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

package ota

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/metrics"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/iotali/linkmq/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// State represents the state of the firmware update.
type State int

// Firmware update states.
const (
	StateIdle State = iota
	StateNotified
	StateDownloading
	StateCompleted
	StateFailed
)

var stateToString = map[State]string{
	StateIdle:        "idle",
	StateNotified:    "notified",
	StateDownloading: "downloading",
	StateCompleted:   "completed",
	StateFailed:      "failed",
}

// String returns the State in string format.
func (s State) String() string {
	if n, ok := stateToString[s]; ok {
		return n
	}
	return "unknown"
}

// maxResumes is the number of times a download is resumed after a read failure.
const maxResumes = 1

// Results of a firmware task, used as metric label.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultRejected  = "rejected"
)

// Subscriber subscribes to a topic filter and routes the matching messages to the handler.
type Subscriber interface {
	Subscribe(filter string, qos packet.QoS, h session.MessageHandler) error
}

// Config contains the configuration of the Pipeline.
type Config struct {
	// Module is the firmware module. Empty means the default module.
	Module string

	// AllowHTTP indicates whether tasks with plain HTTP URLs are accepted.
	AllowHTTP bool

	// BufferSize is the maximum size, in bytes, of each downloaded chunk.
	BufferSize int

	// Port is the port of the download server when the HTTPS URL has none.
	Port int

	// TLSConfig is the TLS configuration of the download server.
	TLSConfig *tls.Config

	// HTTPClient replaces the HTTP client of the downloads.
	HTTPClient *http.Client

	// NewSink creates the Sink of each task. The firmware is discarded when nil.
	NewSink func(t Task) (Sink, error)
}

// Status is a snapshot of the firmware update.
type Status struct {
	State   State
	Version string
	Module  string
	Percent int
}

// OptionFn is a function responsible to inject an option inside the Pipeline.
type OptionFn func(p *Pipeline)

// WithLogger is an option function to inject the logger.Logger inside the Pipeline.
func WithLogger(l *logger.Logger) OptionFn {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithMetrics is an option function to register the Pipeline metrics into the Registerer.
func WithMetrics(reg prometheus.Registerer) OptionFn {
	return func(p *Pipeline) {
		p.registerer = reg
	}
}

// Pipeline drives the firmware update of the device: it receives the firmware tasks pushed by
// the platform (or answered to a firmware query), downloads the firmware, and reports the
// progress.
//
// The download runs in the caller's loop through ReceiveDownload, see Runner.
type Pipeline struct {
	log        *logger.Logger
	conf       Config
	topics     Topics
	reporter   *Reporter
	registerer prometheus.Registerer
	downloads  *prometheus.CounterVec
	progress   prometheus.Gauge

	mu       sync.Mutex
	state    State
	task     Task
	download *Download
	throttle Throttle
	resumes  int
}

// NewPipeline creates a Pipeline for the device identified by the product key and device name.
// The OTA messages are published through pub.
func NewPipeline(pub session.Publisher, productKey, deviceName string, conf Config,
	opts ...OptionFn) *Pipeline {
	topics := NewTopics(productKey, deviceName)
	p := &Pipeline{
		conf:     conf,
		topics:   topics,
		reporter: NewReporter(pub, topics),
	}

	for _, fn := range opts {
		fn(p)
	}

	if p.log == nil {
		p.log = logger.New(io.Discard, nil, logger.JSON)
	}
	p.log = p.log.WithPrefix("ota")

	if p.registerer != nil {
		if err := p.registerMetrics(); err != nil {
			p.log.Error().Msg("Failed to register OTA metrics: " + err.Error())
		}
	}
	return p
}

func (p *Pipeline) registerMetrics() error {
	var err, errs error

	p.downloads, err = metrics.Register(p.registerer,
		metrics.NewCounterVec("ota", "downloads_total", "Number of firmware tasks", "result"))
	errs = multierr.Append(errs, err)

	p.progress, err = metrics.Register(p.registerer,
		metrics.NewGauge("ota", "progress_percent", "Last reported download progress"))
	errs = multierr.Append(errs, err)
	return errs
}

// Topics returns the OTA topics of the device.
func (p *Pipeline) Topics() Topics {
	return p.topics
}

// Subscribe subscribes to the firmware upgrade pushes and firmware query replies with QoS 1
// and routes them to the Pipeline.
func (p *Pipeline) Subscribe(s Subscriber) error {
	return multierr.Combine(
		s.Subscribe(p.topics.Upgrade, packet.QoS1, p),
		s.Subscribe(p.topics.QueryReply, packet.QoS1, p),
	)
}

// ReportVersion reports the current firmware version of the configured module.
func (p *Pipeline) ReportVersion(version string) error {
	err := p.reporter.ReportVersion(version, p.conf.Module)
	if err != nil {
		return fmt.Errorf("failed to report firmware version: %w", err)
	}

	p.log.Info().Str("Version", version).Str("Module", p.conf.Module).Msg("Firmware version reported")
	return nil
}

// QueryFirmware asks the platform for the pending firmware task of the configured module.
func (p *Pipeline) QueryFirmware() error {
	if err := p.reporter.QueryFirmware(p.conf.Module); err != nil {
		return fmt.Errorf("failed to query firmware: %w", err)
	}

	p.log.Debug().Str("Module", p.conf.Module).Msg("Firmware queried")
	return nil
}

// HandleMessage handles the firmware tasks received on the upgrade and query reply topics.
func (p *Pipeline) HandleMessage(m mqtt.Message) {
	if m.Kind != mqtt.MessagePublish {
		return
	}
	if m.Topic != p.topics.Upgrade && m.Topic != p.topics.QueryReply {
		p.log.Debug().Str("Topic", m.Topic).Msg("Message ignored")
		return
	}

	task, err := ParseTask(m.Payload)
	if err != nil {
		if errors.Is(err, ErrNoTask) {
			p.log.Info().Str("Topic", m.Topic).Msg("No firmware task: " + err.Error())
			return
		}
		p.log.Warn().Str("Topic", m.Topic).Msg("Failed to parse firmware task: " + err.Error())
		return
	}

	_ = p.Notify(context.Background(), task)
}

// Notify starts the download of the firmware task. The task is rejected when another task is
// in progress, or when its protocol is not supported.
func (p *Pipeline) Notify(ctx context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateNotified || p.state == StateDownloading {
		p.log.Warn().
			Str("Version", task.Version).
			Str("Current", p.task.Version).
			Msg("Firmware task rejected: download in progress")
		p.count(resultRejected)
		return ErrDownloadBusy
	}

	proto := task.Protocol()
	if proto != ProtocolHTTPS && !(proto == ProtocolHTTP && p.conf.AllowHTTP) {
		p.log.Warn().
			Str("Version", task.Version).
			Str("Protocol", string(proto)).
			Msg("Firmware task rejected: protocol not supported")
		p.count(resultRejected)
		return ErrUnsupportedProtocol.WithReason(string(proto))
	}

	p.log.Info().
		Str("Version", task.Version).
		Str("Module", task.Module).
		Int64("Size", task.Size).
		Str("URL", task.URL).
		Msg("Firmware task received")

	p.state = StateNotified
	p.task = task
	p.throttle = Throttle{}
	p.resumes = 0
	p.setProgress(0)

	d, err := p.newDownload(task)
	if err == nil {
		err = d.SendRequest(ctx)
		if err != nil {
			err = multierr.Append(err, d.Deinit())
		}
	}
	if err != nil {
		p.log.Error().
			Str("Version", task.Version).
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Failed to start download: " + err.Error())
		p.state = StateIdle
		p.count(resultFailed)
		return err
	}

	p.download = d
	p.state = StateDownloading
	p.log.Info().Str("Version", task.Version).Msg("Download started")
	return nil
}

func (p *Pipeline) newDownload(task Task) (*Download, error) {
	opts := []DownloadOption{
		WithChunkHandler(p.onChunk),
		WithTLSConfig(p.conf.TLSConfig),
	}
	if p.conf.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(p.conf.HTTPClient))
	}
	if p.conf.BufferSize > 0 {
		opts = append(opts, WithBufferSize(p.conf.BufferSize))
	}
	if p.conf.Port > 0 {
		opts = append(opts, WithPort(p.conf.Port))
	}
	if p.conf.NewSink != nil {
		s, err := p.conf.NewSink(task)
		if err != nil {
			return nil, ErrDownloadStore.WithReason(err.Error())
		}
		opts = append(opts, WithSink(s))
	}
	return NewDownload(task, opts...), nil
}

// Active returns whether a firmware is being downloaded.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateDownloading
}

// ReceiveDownload receives the next chunk of the firmware being downloaded. It returns
// ErrDownloadFinished once the firmware was completely downloaded and verified, and
// ErrDownloadNotStarted when no firmware is being downloaded. A read failure is resumed once
// from the last received byte; any other error fails the task.
func (p *Pipeline) ReceiveDownload(ctx context.Context) error {
	p.mu.Lock()
	d := p.download
	if p.state != StateDownloading || d == nil {
		p.mu.Unlock()
		return ErrDownloadNotStarted
	}
	p.mu.Unlock()

	err := d.Receive(ctx)
	if err == nil && !d.Finished() {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if err == nil || errors.Is(err, ErrDownloadFinished) {
		p.finish(StateCompleted)
		return ErrDownloadFinished
	}

	if errors.Is(err, ErrDownloadRead) {
		resumed, rerr := p.resume(ctx, d, err)
		if resumed {
			return nil
		}
		err = multierr.Append(err, rerr)
		d.Fail()
	}

	p.finish(StateFailed)
	return err
}

// resume requests the rest of the firmware after a read failure, at most once per task.
func (p *Pipeline) resume(ctx context.Context, d *Download, cause error) (bool, error) {
	p.mu.Lock()
	if p.resumes >= maxResumes {
		p.mu.Unlock()
		return false, nil
	}
	p.resumes++
	p.mu.Unlock()

	p.log.Warn().
		Str("Version", d.Task().Version).
		Int64("Offset", d.Received()).
		Msg("Resuming download: " + cause.Error())
	if err := d.SendRequest(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Status returns a snapshot of the firmware update.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		State:   p.state,
		Version: p.task.Version,
		Module:  p.task.Module,
		Percent: p.throttle.Last(),
	}
}

// Close releases the download in progress, if any. It must not be called while
// ReceiveDownload runs.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.download == nil {
		return nil
	}
	err := p.download.Deinit()
	p.download = nil
	p.state = StateIdle
	return err
}

func (p *Pipeline) finish(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.download != nil {
		if err := p.download.Deinit(); err != nil {
			p.log.Warn().Msg("Failed to release download: " + err.Error())
		}
		p.download = nil
	}
	p.state = state

	if state == StateCompleted {
		p.count(resultCompleted)
		p.log.Info().Str("Version", p.task.Version).Msg("Firmware downloaded")
		return
	}
	p.count(resultFailed)
	p.log.Warn().Str("Version", p.task.Version).Msg("Firmware download failed")
}

func (p *Pipeline) onChunk(c Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Percent < 0 {
		p.report(c.Percent, failureDesc(c.Percent))
		return
	}
	if !p.throttle.Report(c.Percent) {
		return
	}

	p.log.Info().Msg(fmt.Sprintf("download %03d%% done, +%d bytes", c.Percent, len(c.Data)))
	p.setProgress(c.Percent)
	p.report(c.Percent, "")
}

func (p *Pipeline) report(step int, desc string) {
	err := p.reporter.ReportProgress(step, desc, p.task.Module)
	if err != nil {
		p.log.Warn().
			Int("Step", step).
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Failed to report download progress: " + err.Error())
	}
}

func (p *Pipeline) count(result string) {
	if p.downloads != nil {
		p.downloads.WithLabelValues(result).Inc()
	}
}

func (p *Pipeline) setProgress(percent int) {
	if p.progress != nil {
		p.progress.Set(float64(percent))
	}
}

func failureDesc(step int) string {
	switch step {
	case StepDownloadFailed:
		return "download failed"
	case StepVerifyFailed:
		return "verify failed"
	default:
		return "upgrade failed"
	}
}
