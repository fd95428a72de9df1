// Package enginetest provides in-memory fakes for the engine
// capability surface.
package enginetest

import (
	"sync"

	"github.com/google/uuid"
	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/mkrajcer/castroom/internal/engine"
)

// Factory returns a WorkerFactory producing fresh fake workers and
// remembers every worker it made.
type Factory struct {
	mu      sync.Mutex
	Workers []*FakeWorker
}

func (f *Factory) New() (engine.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &FakeWorker{pid: len(f.Workers) + 1}
	f.Workers = append(f.Workers, w)
	return w, nil
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Workers)
}

type FakeWorker struct {
	mu      sync.Mutex
	pid     int
	died    func(error)
	Routers []*FakeRouter
	Closed  bool
}

func (w *FakeWorker) Pid() int { return w.pid }

func (w *FakeWorker) CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (engine.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := NewFakeRouter()
	r.Codecs = mediaCodecs
	w.Routers = append(w.Routers, r)
	return r, nil
}

func (w *FakeWorker) OnDied(listener func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.died = listener
}

// Die simulates an irrecoverable worker failure.
func (w *FakeWorker) Die(err error) {
	w.mu.Lock()
	died := w.died
	w.mu.Unlock()
	if died != nil {
		died(err)
	}
}

func (w *FakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Closed = true
	return nil
}

type FakeRouter struct {
	mu     sync.Mutex
	id     string
	Codecs []*mediasoup.RtpCodecCapability
	Caps   *mediasoup.RtpCapabilities
	Closed bool

	// CanConsumeFunc decides capability compatibility. Defaults to true.
	CanConsumeFunc func(producerID string, caps *mediasoup.RtpCapabilities) bool

	WebRtcTransports []*FakeWebRtcTransport
	PlainTransports  []*FakePlainTransport
}

func NewFakeRouter() *FakeRouter {
	return &FakeRouter{
		id:   uuid.NewString(),
		Caps: &mediasoup.RtpCapabilities{},
	}
}

func (r *FakeRouter) Id() string { return r.id }

func (r *FakeRouter) RtpCapabilities() *mediasoup.RtpCapabilities { return r.Caps }

func (r *FakeRouter) CanConsume(producerID string, caps *mediasoup.RtpCapabilities) bool {
	if r.CanConsumeFunc != nil {
		return r.CanConsumeFunc(producerID, caps)
	}
	return true
}

func (r *FakeRouter) CreateWebRtcTransport(engine.ListenConfig) (engine.WebRtcTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &FakeWebRtcTransport{id: uuid.NewString()}
	r.WebRtcTransports = append(r.WebRtcTransports, t)
	return t, nil
}

func (r *FakeRouter) CreatePlainTransport(engine.ListenConfig) (engine.PlainTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &FakePlainTransport{id: uuid.NewString()}
	r.PlainTransports = append(r.PlainTransports, t)
	return t, nil
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

type FakeWebRtcTransport struct {
	mu        sync.Mutex
	id        string
	Connected bool
	Dtls      *mediasoup.DtlsParameters
	Closed    bool
	onClose   []func()

	Producers []*FakeProducer
	Consumers []*FakeConsumer

	ProduceErr error
	ConsumeErr error
}

func (t *FakeWebRtcTransport) Id() string { return t.id }

func (t *FakeWebRtcTransport) Info() engine.TransportInfo {
	return engine.TransportInfo{ID: t.id}
}

func (t *FakeWebRtcTransport) Connect(dtls *mediasoup.DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = true
	t.Dtls = dtls
	return nil
}

func (t *FakeWebRtcTransport) Produce(kind mediasoup.MediaKind, rtp *mediasoup.RtpParameters) (engine.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	p := &FakeProducer{id: uuid.NewString(), kind: kind, Rtp: rtp}
	t.Producers = append(t.Producers, p)
	return p, nil
}

func (t *FakeWebRtcTransport) Consume(producerID string, caps *mediasoup.RtpCapabilities, paused bool) (engine.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	c := NewFakeConsumer(producerID, paused)
	t.Consumers = append(t.Consumers, c)
	return c, nil
}

func (t *FakeWebRtcTransport) OnClose(listener func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, listener)
}

func (t *FakeWebRtcTransport) Close() error {
	t.mu.Lock()
	if t.Closed {
		t.mu.Unlock()
		return nil
	}
	t.Closed = true
	listeners := t.onClose
	t.mu.Unlock()
	for _, l := range listeners {
		l()
	}
	return nil
}

type FakePlainTransport struct {
	mu        sync.Mutex
	id        string
	Connected bool
	RtpPort   uint16
	RtcpPort  uint16
	Closed    bool

	Consumers  []*FakeConsumer
	ConsumeErr error
}

func (t *FakePlainTransport) Id() string { return t.id }

func (t *FakePlainTransport) Connect(ip string, rtpPort, rtcpPort uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = true
	t.RtpPort = rtpPort
	t.RtcpPort = rtcpPort
	return nil
}

func (t *FakePlainTransport) Consume(producerID string, caps *mediasoup.RtpCapabilities, paused bool) (engine.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	c := NewFakeConsumer(producerID, paused)
	t.Consumers = append(t.Consumers, c)
	return c, nil
}

func (t *FakePlainTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

type FakeProducer struct {
	mu      sync.Mutex
	id      string
	kind    mediasoup.MediaKind
	Rtp     *mediasoup.RtpParameters
	Closed  bool
	onClose []func()
}

// NewFakeProducer builds a standalone producer for tests that do not
// need a backing transport.
func NewFakeProducer(kind mediasoup.MediaKind) *FakeProducer {
	return &FakeProducer{id: uuid.NewString(), kind: kind}
}

func (p *FakeProducer) Id() string                { return p.id }
func (p *FakeProducer) Kind() mediasoup.MediaKind { return p.kind }

func (p *FakeProducer) OnClose(listener func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, listener)
}

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	if p.Closed {
		p.mu.Unlock()
		return nil
	}
	p.Closed = true
	listeners := p.onClose
	p.mu.Unlock()
	for _, l := range listeners {
		l()
	}
	return nil
}

type FakeConsumer struct {
	mu         sync.Mutex
	id         string
	producerID string
	Paused     bool
	Resumed    bool
	Closed     bool
	onClose    []func()

	Rtp *mediasoup.RtpParameters

	// OnResume fires on Resume, before the state change is recorded.
	OnResume func()
}

func NewFakeConsumer(producerID string, paused bool) *FakeConsumer {
	return &FakeConsumer{
		id:         uuid.NewString(),
		producerID: producerID,
		Paused:     paused,
		Rtp: &mediasoup.RtpParameters{
			Codecs: []*mediasoup.RtpCodecParameters{
				{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
			},
		},
	}
}

func (c *FakeConsumer) Id() string                { return c.id }
func (c *FakeConsumer) Kind() mediasoup.MediaKind { return mediasoup.MediaKind("video") }
func (c *FakeConsumer) ProducerId() string        { return c.producerID }

func (c *FakeConsumer) RtpParameters() *mediasoup.RtpParameters { return c.Rtp }

func (c *FakeConsumer) Resume() error {
	if c.OnResume != nil {
		c.OnResume()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Paused = false
	c.Resumed = true
	return nil
}

func (c *FakeConsumer) OnClose(listener func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, listener)
}

func (c *FakeConsumer) Close() error {
	c.mu.Lock()
	if c.Closed {
		c.mu.Unlock()
		return nil
	}
	c.Closed = true
	listeners := c.onClose
	c.mu.Unlock()
	for _, l := range listeners {
		l()
	}
	return nil
}
