package engine

import (
	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
)

// The media engine is consumed through this capability surface only.
// The production binding lives in engine/msoup; tests use engine/enginetest.

// Worker is one media engine process. It owns routers.
type Worker interface {
	Pid() int
	CreateRouter(mediaCodecs []*mediasoup.RtpCodecCapability) (Router, error)
	// OnDied fires when the worker process fails irrecoverably.
	OnDied(listener func(err error))
	Close() error
}

// Router groups transports that can exchange capability-compatible media.
// One router per room.
type Router interface {
	Id() string
	RtpCapabilities() *mediasoup.RtpCapabilities
	CanConsume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities) bool
	CreateWebRtcTransport(listen ListenConfig) (WebRtcTransport, error)
	CreatePlainTransport(listen ListenConfig) (PlainTransport, error)
	Close() error
}

// TransportInfo carries the client-visible parameters of a WebRTC
// transport, sent back in transport-created.
type TransportInfo struct {
	ID             string                   `json:"id"`
	IceParameters  mediasoup.IceParameters  `json:"iceParameters"`
	IceCandidates  []mediasoup.IceCandidate `json:"iceCandidates"`
	DtlsParameters mediasoup.DtlsParameters `json:"dtlsParameters"`
}

// WebRtcTransport is an ICE/DTLS-secured transport bound to a client.
// The sender/receiver role is a signaling-level label only; the
// transport itself is symmetric.
type WebRtcTransport interface {
	Id() string
	Info() TransportInfo
	Connect(dtlsParameters *mediasoup.DtlsParameters) error
	Produce(kind mediasoup.MediaKind, rtpParameters *mediasoup.RtpParameters) (Producer, error)
	Consume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool) (Consumer, error)
	OnClose(listener func())
	Close() error
}

// PlainTransport is a raw-RTP endpoint consumed locally by the
// restreaming pipeline. No ICE/DTLS.
type PlainTransport interface {
	Id() string
	Connect(ip string, rtpPort, rtcpPort uint16) error
	Consume(producerID string, rtpCapabilities *mediasoup.RtpCapabilities, paused bool) (Consumer, error)
	Close() error
}

// Producer is the server-side handle for an inbound RTP source.
type Producer interface {
	Id() string
	Kind() mediasoup.MediaKind
	OnClose(listener func())
	Close() error
}

// Consumer is the server-side handle for an outbound RTP sink.
type Consumer interface {
	Id() string
	Kind() mediasoup.MediaKind
	ProducerId() string
	RtpParameters() *mediasoup.RtpParameters
	Resume() error
	OnClose(listener func())
	Close() error
}

// ListenConfig is the fixed listen address transports bind to.
type ListenConfig struct {
	IP          string
	AnnouncedIP string
}

// WorkerFactory spawns one engine worker.
type WorkerFactory func() (Worker, error)
