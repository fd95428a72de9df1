package signal

import (
	"encoding/json"
	"errors"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/domain"
)

// handleMessage dispatches one inbound frame. Returns true when the
// session asked to disconnect and the read loop should stop.
func (ctl *Controller) handleMessage(sid core.SessionID, c *wsConn, data []byte) bool {
	if allowed, notify := ctl.limiter.Allow(sid); !allowed {
		if notify {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("message rate exceeded")
			ctl.sendError(c, "rate-limited", "too many messages")
		}
		return false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad-request", "malformed message")
		return false
	}

	switch env.Event {
	case evJoinRoom:
		ctl.handleJoinRoom(sid, c, env.Data)
	case evCreateTransport:
		ctl.handleCreateTransport(sid, c, env.Data)
	case evConnectTransport:
		ctl.handleConnectTransport(sid, c, env.Data)
	case evProduceMedia:
		ctl.handleProduceMedia(sid, c, env.Data)
	case evConsumeMedia:
		ctl.handleConsumeMedia(sid, c, env.Data)
	case evResumeConsuming:
		ctl.handleResumeConsuming(sid)
	case evDisconnect:
		return true
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
		ctl.sendError(c, "bad-request", "unknown event")
	}
	return false
}

func (ctl *Controller) handleJoinRoom(sid core.SessionID, c *wsConn, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		ctl.sendError(c, "bad-request", "join-room needs a roomId")
		return
	}

	caps, err := ctl.Orch.JoinRoom(sid, domain.RoomID(p.RoomID))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("join room")
		ctl.sendError(c, errorCode(err), "could not join room")
		return
	}
	ctl.sendJSON(c, evRouterCapabilities, routerCapabilitiesData{RtpCapabilities: caps})
}

func (ctl *Controller) handleCreateTransport(sid core.SessionID, c *wsConn, data json.RawMessage) {
	var p createTransportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad-request", "malformed create-transport")
		return
	}

	info, existing, err := ctl.Orch.CreateTransport(sid, p.Sender)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Bool("sender", p.Sender).Msg("create transport")
		ctl.sendError(c, errorCode(err), "could not create transport")
		return
	}
	ctl.sendJSON(c, evTransportCreated, transportCreatedData{Params: info, Sender: p.Sender})

	if !p.Sender {
		ids := make([]string, 0, len(existing))
		for _, peer := range existing {
			ids = append(ids, string(peer))
		}
		ctl.sendJSON(c, evExistingClients, existingClientsData{ExistingClients: ids})
	}
}

func (ctl *Controller) handleConnectTransport(sid core.SessionID, c *wsConn, data json.RawMessage) {
	var p connectTransportPayload
	if err := json.Unmarshal(data, &p); err != nil || p.DtlsParameters == nil {
		ctl.sendError(c, "bad-request", "connect-transport needs dtlsParameters")
		return
	}

	peers, err := ctl.Orch.ConnectTransport(sid, p.Sender, p.DtlsParameters)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Bool("sender", p.Sender).Msg("connect transport")
		ctl.sendError(c, errorCode(err), "could not connect transport")
		return
	}
	if p.Sender {
		ctl.fanOut(peers, evNewProducerTransport, newProducerTransportData{NewClientID: string(sid)})
	}
}

func (ctl *Controller) handleProduceMedia(sid core.SessionID, c *wsConn, data json.RawMessage) {
	var p produceMediaPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RtpParameters == nil {
		ctl.sendError(c, "bad-request", "produce-media needs kind and rtpParameters")
		return
	}

	id, err := ctl.Orch.ProduceMedia(sid, mediasoup.MediaKind(p.Kind), p.RtpParameters)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", p.Kind).Msg("produce media")
		ctl.sendError(c, errorCode(err), "could not produce media")
		return
	}
	ctl.sendJSON(c, evProducingMedia, producingMediaData{ID: id})
}

func (ctl *Controller) handleConsumeMedia(sid core.SessionID, c *wsConn, data json.RawMessage) {
	var p consumeMediaPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RtpCapabilities == nil || p.ProducerID == "" {
		ctl.sendError(c, "bad-request", "consume-media needs rtpCapabilities and producerId")
		return
	}

	res, err := ctl.Orch.ConsumeMedia(sid, core.SessionID(p.ProducerID), p.RtpCapabilities)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("remote", p.ProducerID).Msg("consume media")
		ctl.sendError(c, errorCode(err), "could not consume media")
		return
	}
	ctl.sendJSON(c, evConsumingMedia, consumingMediaData{Params: consumerParams{
		ProducerID:    res.ProducerID,
		ID:            res.ConsumerID,
		Kind:          res.Kind,
		RtpParameters: res.RtpParameters,
	}})
}

func (ctl *Controller) handleResumeConsuming(sid core.SessionID) {
	n := ctl.Orch.ResumeConsumers(sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("resumed", n).Msg("consumers resumed")
}

func (ctl *Controller) fanOut(peers []app.PeerSnap, event string, data any) {
	b, err := json.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("fanOut marshal")
		return
	}
	for _, peer := range peers {
		if err := peer.Conn.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(peer.SID)).Str("event", event).Msg("fanOut drop")
		}
	}
}

func (ctl *Controller) sendJSON(c *wsConn, event string, data any) {
	b, err := json.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("event", event).Msg("sendJSON drop")
	}
}

func (ctl *Controller) sendError(c *wsConn, code, message string) {
	ctl.sendJSON(c, evError, errorData{Code: code, Message: message})
}

// errorCode maps orchestration failures onto the error event codes the
// client can act on. Anything unrecognized is an engine failure.
func errorCode(err error) string {
	switch {
	case errors.Is(err, app.ErrNoSession):
		return "no-session"
	case errors.Is(err, app.ErrNoRoom):
		return "not-in-room"
	case errors.Is(err, app.ErrTransportExists):
		return "transport-exists"
	case errors.Is(err, app.ErrNoTransport):
		return "no-transport"
	case errors.Is(err, app.ErrProducerExists):
		return "producer-exists"
	case errors.Is(err, app.ErrNoProducer):
		return "no-producer"
	case errors.Is(err, app.ErrAlreadyConsuming):
		return "already-consuming"
	case errors.Is(err, orch.ErrCannotConsume):
		return "cannot-consume"
	default:
		return "engine-failure"
	}
}
