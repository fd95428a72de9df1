package signal

import (
	"encoding/json"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/mkrajcer/castroom/internal/engine"
)

// Inbound events.
const (
	evJoinRoom         = "join-room"
	evCreateTransport  = "create-transport"
	evConnectTransport = "connect-transport"
	evProduceMedia     = "produce-media"
	evConsumeMedia     = "consume-media"
	evResumeConsuming  = "resume-consuming-media"
	evDisconnect       = "disconnect"
)

// Outbound events.
const (
	evConnectionSuccess    = "connection-success"
	evRouterCapabilities   = "router-rtp-capabilities"
	evTransportCreated     = "transport-created"
	evExistingClients      = "existing-clients-list"
	evNewProducerTransport = "new-producer-transport-created"
	evProducingMedia       = "producing-media"
	evConsumingMedia       = "consuming-media"
	evClientDisconnected   = "disconnect"
	evError                = "error"
)

// envelope frames every message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type createTransportPayload struct {
	Sender bool `json:"sender"`
}

type connectTransportPayload struct {
	Sender         bool                      `json:"sender"`
	DtlsParameters *mediasoup.DtlsParameters `json:"dtlsParameters"`
}

type produceMediaPayload struct {
	Kind          string                   `json:"kind"`
	RtpParameters *mediasoup.RtpParameters `json:"rtpParameters"`
}

type consumeMediaPayload struct {
	RtpCapabilities *mediasoup.RtpCapabilities `json:"rtpCapabilities"`
	ProducerID      string                     `json:"producerId"`
}

type routerCapabilitiesData struct {
	RtpCapabilities *mediasoup.RtpCapabilities `json:"rtpCapabilities"`
}

type transportCreatedData struct {
	Params engine.TransportInfo `json:"params"`
	Sender bool                 `json:"sender"`
}

type existingClientsData struct {
	ExistingClients []string `json:"existingClients"`
}

type newProducerTransportData struct {
	NewClientID string `json:"newClientId"`
}

type producingMediaData struct {
	ID string `json:"id"`
}

type consumerParams struct {
	ProducerID    string                   `json:"producerId"`
	ID            string                   `json:"id"`
	Kind          mediasoup.MediaKind      `json:"kind"`
	RtpParameters *mediasoup.RtpParameters `json:"rtpParameters"`
}

type consumingMediaData struct {
	Params consumerParams `json:"params"`
}

type disconnectData struct {
	UserID             string `json:"userId"`
	DisconnectedClient string `json:"disconnectedClient"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
