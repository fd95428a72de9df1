// Package msoup binds the engine capability surface to mediasoup
// worker processes via github.com/jiyeyuran/mediasoup-go.
package msoup

import (
	"context"
	"sync/atomic"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/mkrajcer/castroom/internal/engine"
)

// NewFactory returns a WorkerFactory spawning mediasoup workers from
// the given binary path.
func NewFactory(workerBin string) engine.WorkerFactory {
	return func() (engine.Worker, error) {
		w, err := mediasoup.NewWorker(workerBin)
		if err != nil {
			return nil, err
		}
		return &worker{w: w}, nil
	}
}

type worker struct {
	w *mediasoup.Worker

	// closed suppresses the death watch once Close was deliberate.
	closed atomic.Bool
}

func (w *worker) Pid() int { return w.w.Pid() }

func (w *worker) CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (engine.Router, error) {
	r, err := w.w.CreateRouter(&mediasoup.RouterOptions{MediaCodecs: mediaCodecs})
	if err != nil {
		return nil, err
	}
	return &router{r: r}, nil
}

// OnDied runs listener when the worker subprocess exits without Close
// having been called. mediasoup-go surfaces the exit through the
// worker's OnClose listener, with the cause in Err.
func (w *worker) OnDied(listener func(err error)) {
	w.w.OnClose(func(context.Context) {
		if w.closed.Load() {
			return
		}
		listener(w.w.Err())
	})
}

func (w *worker) Close() error {
	w.closed.Store(true)
	w.w.Close()
	return nil
}

type router struct {
	r *mediasoup.Router
}

func (r *router) Id() string { return r.r.Id() }

func (r *router) RtpCapabilities() *mediasoup.RtpCapabilities {
	return r.r.RtpCapabilities()
}

func (r *router) CanConsume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities) bool {
	return r.r.CanConsume(producerID, rtpCapabilities)
}

func (r *router) CreateWebRtcTransport(listen engine.ListenConfig) (engine.WebRtcTransport, error) {
	t, err := r.r.CreateWebRtcTransport(&mediasoup.WebRtcTransportOptions{
		ListenInfos: []mediasoup.TransportListenInfo{
			{
				Protocol:         mediasoup.TransportProtocol("udp"),
				Ip:               listen.IP,
				AnnouncedAddress: listen.AnnouncedIP,
			},
			{
				Protocol:         mediasoup.TransportProtocol("tcp"),
				Ip:               listen.IP,
				AnnouncedAddress: listen.AnnouncedIP,
			},
		},
		PreferUdp: true,
	})
	if err != nil {
		return nil, err
	}
	wt := &webRtcTransport{t: t}
	// The transport self-closes once its DTLS association is gone.
	t.OnDtlsStateChange(func(state mediasoup.DtlsState) {
		if state == mediasoup.DtlsState("closed") {
			_ = t.Close()
		}
	})
	return wt, nil
}

func (r *router) CreatePlainTransport(listen engine.ListenConfig) (engine.PlainTransport, error) {
	t, err := r.r.CreatePlainTransport(&mediasoup.PlainTransportOptions{
		ListenInfo: mediasoup.TransportListenInfo{
			Protocol:         mediasoup.TransportProtocol("udp"),
			Ip:               listen.IP,
			AnnouncedAddress: listen.AnnouncedIP,
		},
		RtcpMux: ref(false),
		Comedia: true,
	})
	if err != nil {
		return nil, err
	}
	return &plainTransport{t: t}, nil
}

func (r *router) Close() error { return r.r.Close() }

type webRtcTransport struct {
	t *mediasoup.Transport
}

func (t *webRtcTransport) Id() string { return t.t.Id() }

func (t *webRtcTransport) Info() engine.TransportInfo {
	data := t.t.Data().WebRtcTransportData
	return engine.TransportInfo{
		ID:             t.t.Id(),
		IceParameters:  data.IceParameters,
		IceCandidates:  data.IceCandidates,
		DtlsParameters: data.DtlsParameters,
	}
}

func (t *webRtcTransport) Connect(dtlsParameters *mediasoup.DtlsParameters) error {
	return t.t.Connect(&mediasoup.TransportConnectOptions{DtlsParameters: dtlsParameters})
}

func (t *webRtcTransport) Produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters) (engine.Producer, error) {
	p, err := t.t.Produce(&mediasoup.ProducerOptions{
		Kind:          kind,
		RtpParameters: rtpParameters,
	})
	if err != nil {
		return nil, err
	}
	return &producer{p: p}, nil
}

func (t *webRtcTransport) Consume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool) (engine.Consumer, error) {
	c, err := t.t.Consume(&mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: rtpCapabilities,
		Paused:          paused,
	})
	if err != nil {
		return nil, err
	}
	return &consumer{c: c}, nil
}

func (t *webRtcTransport) OnClose(listener func()) {
	t.t.OnClose(func(context.Context) { listener() })
}

func (t *webRtcTransport) Close() error { return t.t.Close() }

type plainTransport struct {
	t *mediasoup.Transport
}

func (t *plainTransport) Id() string { return t.t.Id() }

func (t *plainTransport) Connect(ip string, rtpPort, rtcpPort uint16) error {
	return t.t.Connect(&mediasoup.TransportConnectOptions{
		Ip:       ip,
		Port:     &rtpPort,
		RtcpPort: &rtcpPort,
	})
}

func (t *plainTransport) Consume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool) (engine.Consumer, error) {
	c, err := t.t.Consume(&mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: rtpCapabilities,
		Paused:          paused,
	})
	if err != nil {
		return nil, err
	}
	return &consumer{c: c}, nil
}

func (t *plainTransport) Close() error { return t.t.Close() }

type producer struct {
	p *mediasoup.Producer
}

func (p *producer) Id() string                { return p.p.Id() }
func (p *producer) Kind() mediasoup.MediaKind { return p.p.Kind() }

func (p *producer) OnClose(listener func()) {
	p.p.OnClose(func(context.Context) { listener() })
}

func (p *producer) Close() error { return p.p.Close() }

type consumer struct {
	c *mediasoup.Consumer
}

func (c *consumer) Id() string                { return c.c.Id() }
func (c *consumer) Kind() mediasoup.MediaKind { return c.c.Kind() }
func (c *consumer) ProducerId() string        { return c.c.ProducerId() }

func (c *consumer) RtpParameters() *mediasoup.RtpParameters {
	return c.c.RtpParameters()
}

func (c *consumer) Resume() error { return c.c.Resume() }

func (c *consumer) OnClose(listener func()) {
	c.c.OnClose(func(context.Context) { listener() })
}

func (c *consumer) Close() error { return c.c.Close() }

func ref[T any](v T) *T { return &v }
