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
	"crypto/md5" //nolint:gosec
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPort is the port of the download server when the URL has none.
	DefaultPort = 443

	// DefaultBufferSize is the maximum size, in bytes, of each downloaded chunk.
	DefaultBufferSize = 2048

	defaultResponseTimeout = 30 * time.Second
)

// Chunk is a piece of the firmware delivered to the ChunkHandler.
type Chunk struct {
	// Data is the chunk content, valid only while the handler runs. It is empty for negative
	// percentages.
	Data []byte

	// Percent is the download progress, from 0 to 100. A negative value reports a failure with
	// one of the Step constants.
	Percent int

	// Received is the number of bytes received so far.
	Received int64

	// Total is the firmware size.
	Total int64
}

// ChunkHandler is called for each downloaded chunk, in order.
type ChunkHandler func(c Chunk)

// DownloadOption is a function responsible to inject an option inside the Download.
type DownloadOption func(d *Download)

// WithHTTPClient is an option function to replace the HTTP client.
func WithHTTPClient(c *http.Client) DownloadOption {
	return func(d *Download) {
		d.client = c
	}
}

// WithTLSConfig is an option function to set the TLS configuration of the download server.
func WithTLSConfig(conf *tls.Config) DownloadOption {
	return func(d *Download) {
		d.tlsConf = conf
	}
}

// WithPort is an option function to set the port used when the HTTPS URL has none.
func WithPort(port int) DownloadOption {
	return func(d *Download) {
		d.port = port
	}
}

// WithBufferSize is an option function to set the maximum size of each chunk.
func WithBufferSize(n int) DownloadOption {
	return func(d *Download) {
		d.bufSize = n
	}
}

// WithChunkHandler is an option function to set the ChunkHandler.
func WithChunkHandler(h ChunkHandler) DownloadOption {
	return func(d *Download) {
		d.onChunk = h
	}
}

// WithSink is an option function to set where the firmware is stored.
func WithSink(s Sink) DownloadOption {
	return func(d *Download) {
		d.sink = s
	}
}

// Download is a download sub-session of a firmware Task over HTTP(S). SendRequest starts the
// transfer and each Receive call reads one chunk of at most the buffer size.
//
// A Download is not safe for concurrent use.
type Download struct {
	task     Task
	client   *http.Client
	tlsConf  *tls.Config
	port     int
	bufSize  int
	onChunk  ChunkHandler
	sink     Sink
	buf      []byte
	hash     hash.Hash
	digest   string
	body     io.ReadCloser
	received int64
	total    int64
	finished bool
	released bool
}

// NewDownload creates a Download of the task.
func NewDownload(task Task, opts ...DownloadOption) *Download {
	d := &Download{
		task:    task,
		port:    DefaultPort,
		bufSize: DefaultBufferSize,
		sink:    discardSink{},
	}

	for _, fn := range opts {
		fn(d)
	}

	if d.client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = d.tlsConf
		tr.ResponseHeaderTimeout = defaultResponseTimeout
		d.client = &http.Client{Transport: tr}
	}
	if d.bufSize <= 0 {
		d.bufSize = DefaultBufferSize
	}
	d.buf = make([]byte, d.bufSize)

	method, digest := task.Digest()
	switch method {
	case SignSHA256:
		d.hash = sha256.New()
	case SignMD5:
		d.hash = md5.New() //nolint:gosec
	}
	d.digest = digest
	return d
}

// Task returns the task of the Download.
func (d *Download) Task() Task {
	return d.task
}

// Finished returns whether the firmware was completely downloaded and verified.
func (d *Download) Finished() bool {
	return d.finished
}

// SendRequest sends the HTTP request of the firmware. After a failed Receive, it resumes the
// transfer from the last received byte.
func (d *Download) SendRequest(ctx context.Context) error {
	if d.released {
		return ErrDownloadNotStarted.WithReason("download released")
	}
	d.closeBody()

	u, err := d.requestURL()
	if err != nil {
		return ErrDownloadRequest.WithReason(err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return ErrDownloadRequest.WithReason(err.Error())
	}
	if d.received > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(d.received, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return ErrDownloadRequest.WithReason(err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusOK && d.received == 0:
	case resp.StatusCode == http.StatusPartialContent:
	default:
		_ = resp.Body.Close()
		cancel()
		return ErrDownloadStatus.WithReason(resp.Status)
	}

	d.total = d.task.Size
	if d.total <= 0 && resp.ContentLength > 0 {
		d.total = d.received + resp.ContentLength
	}
	d.body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return nil
}

// Receive reads the next chunk of the firmware, writes it into the Sink and delivers it to the
// ChunkHandler. It returns ErrDownloadFinished once the firmware was completely received and
// verified.
//
// A read failure is returned as ErrDownloadRead without reporting it to the ChunkHandler: the
// caller either resumes the transfer with SendRequest or gives up with Fail.
func (d *Download) Receive(ctx context.Context) error {
	if d.finished {
		return ErrDownloadFinished
	}
	if d.body == nil {
		return ErrDownloadNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	size := int64(d.bufSize)
	if d.total > 0 && d.total-d.received < size {
		size = d.total - d.received
	}

	n, err := io.ReadFull(d.body, d.buf[:size])
	if n > 0 {
		if werr := d.write(d.buf[:n]); werr != nil {
			d.fail(StepDownloadFailed)
			return werr
		}
	}

	if d.total > 0 && d.received >= d.total {
		return d.complete(d.buf[:n])
	}

	if err != nil {
		d.closeBody()
		if d.total <= 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			d.total = d.received
			return d.complete(d.buf[:n])
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrDownloadRead.WithReason(fmt.Sprintf("body ended at %d of %d bytes",
				d.received, d.total))
		}
		return ErrDownloadRead.WithReason(err.Error())
	}

	d.deliver(d.buf[:n], d.percent())
	return nil
}

// Received returns the number of bytes received so far.
func (d *Download) Received() int64 {
	return d.received
}

// Fail reports the download failure to the ChunkHandler.
func (d *Download) Fail() {
	d.fail(StepDownloadFailed)
}

// Deinit releases the Download. A firmware which was not completely downloaded is discarded.
func (d *Download) Deinit() error {
	if d.released {
		return nil
	}
	d.released = true
	d.closeBody()

	if !d.finished {
		return d.sink.Abort()
	}
	return nil
}

func (d *Download) requestURL() (string, error) {
	u, err := url.Parse(d.task.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme == string(ProtocolHTTPS) && u.Port() == "" && d.port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(d.port))
	}
	return u.String(), nil
}

func (d *Download) write(p []byte) error {
	if _, err := d.sink.Write(p); err != nil {
		return ErrDownloadStore.WithReason(err.Error())
	}
	if d.hash != nil {
		_, _ = d.hash.Write(p)
	}
	d.received += int64(len(p))
	return nil
}

func (d *Download) complete(last []byte) error {
	d.closeBody()

	if d.hash != nil {
		sum := hex.EncodeToString(d.hash.Sum(nil))
		if sum != d.digest {
			d.fail(StepVerifyFailed)
			return ErrDownloadDigest.WithReason("expected " + d.digest + ", got " + sum)
		}
	}

	if err := d.sink.Commit(); err != nil {
		d.fail(StepUpgradeFailed)
		return ErrDownloadStore.WithReason(err.Error())
	}

	d.finished = true
	d.deliver(last, 100)
	return nil
}

func (d *Download) fail(step int) {
	d.deliver(nil, step)
}

func (d *Download) deliver(data []byte, percent int) {
	if d.onChunk == nil {
		return
	}
	d.onChunk(Chunk{Data: data, Percent: percent, Received: d.received, Total: d.total})
}

func (d *Download) percent() int {
	if d.total <= 0 {
		return 0
	}
	p := int(d.received * 100 / d.total)
	if p >= 100 {
		p = 99
	}
	return p
}

func (d *Download) closeBody() {
	if d.body != nil {
		_ = d.body.Close()
		d.body = nil
	}
}

// cancelOnClose cancels the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
