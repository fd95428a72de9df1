package orch

import (
	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/domain"
	"github.com/mkrajcer/castroom/internal/engine"
)

// JoinRoom attaches sid to roomID, creating the room's router on first
// join, and returns the router's RTP capabilities.
func (o *Orchestrator) JoinRoom(sid core.SessionID, roomID domain.RoomID) (*mediasoup.RtpCapabilities, error) {
	router, err := o.Engine.Router(string(roomID))
	if err != nil {
		return nil, err
	}
	if err := o.Registry.SetRoom(sid, roomID, router); err != nil {
		return nil, err
	}
	return router.RtpCapabilities(), nil
}

// CreateTransport creates the sender- or receiver-role transport for
// sid. For the receiver role it also snapshots the ids of the other
// members of sid's room, for the existing-clients-list reply.
func (o *Orchestrator) CreateTransport(sid core.SessionID, sender bool) (engine.TransportInfo, []core.SessionID, error) {
	roomID, router, ok := o.Registry.Room(sid)
	if !ok {
		return engine.TransportInfo{}, nil, app.ErrNoRoom
	}

	t, err := o.Engine.CreateWebRtcTransport(router)
	if err != nil {
		return engine.TransportInfo{}, nil, err
	}
	if err := o.Registry.SetTransport(sid, sender, t); err != nil {
		_ = t.Close()
		return engine.TransportInfo{}, nil, err
	}

	var existing []core.SessionID
	if !sender {
		for _, peer := range o.Registry.Peers(roomID, sid) {
			existing = append(existing, peer.SID)
		}
	}
	return t.Info(), existing, nil
}

// ConnectTransport completes the DTLS handshake on the requested
// transport. For the sender role it returns the open same-room peers
// that must learn about the new producer transport.
func (o *Orchestrator) ConnectTransport(sid core.SessionID, sender bool, dtls *mediasoup.DtlsParameters) ([]app.PeerSnap, error) {
	t, ok := o.Registry.Transport(sid, sender)
	if !ok {
		return nil, app.ErrNoTransport
	}
	if err := t.Connect(dtls); err != nil {
		return nil, err
	}
	if !sender {
		return nil, nil
	}

	roomID, _, ok := o.Registry.Room(sid)
	if !ok {
		return nil, nil
	}
	return openPeers(o.Registry.Peers(roomID, sid)), nil
}

// ProduceMedia creates the session's producer on its sender transport.
func (o *Orchestrator) ProduceMedia(sid core.SessionID, kind mediasoup.MediaKind, rtp *mediasoup.RtpParameters) (string, error) {
	t, ok := o.Registry.Transport(sid, true)
	if !ok {
		return "", app.ErrNoTransport
	}
	p, err := t.Produce(kind, rtp)
	if err != nil {
		return "", err
	}
	if err := o.Registry.SetProducer(sid, p); err != nil {
		_ = p.Close()
		return "", err
	}
	return p.Id(), nil
}

// ConsumeResult carries the parameters the consuming client needs.
type ConsumeResult struct {
	ProducerID    string
	ConsumerID    string
	Kind          mediasoup.MediaKind
	RtpParameters *mediasoup.RtpParameters
}

// ConsumeMedia consumes the producer owned by the remote session on the
// caller's receiver transport. The consumer starts paused; the client
// resumes it once its media sink is attached. Incompatible capabilities
// refuse the consume without touching any state.
func (o *Orchestrator) ConsumeMedia(sid, remote core.SessionID, caps *mediasoup.RtpCapabilities) (*ConsumeResult, error) {
	_, router, ok := o.Registry.Room(sid)
	if !ok {
		return nil, app.ErrNoRoom
	}
	producer, ok := o.Registry.Producer(remote)
	if !ok {
		return nil, app.ErrNoProducer
	}
	if !router.CanConsume(producer.Id(), caps) {
		return nil, ErrCannotConsume
	}
	t, ok := o.Registry.Transport(sid, false)
	if !ok {
		return nil, app.ErrNoTransport
	}

	c, err := t.Consume(producer.Id(), caps, true)
	if err != nil {
		return nil, err
	}
	if err := o.Registry.AddConsumer(sid, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	// Drop it from the session once the engine closes it, e.g. when the
	// remote producer goes away.
	c.OnClose(func() { o.Registry.RemoveConsumer(sid, c.Id()) })

	return &ConsumeResult{
		ProducerID:    producer.Id(),
		ConsumerID:    c.Id(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
	}, nil
}

// ResumeConsumers resumes every consumer in sid's own list and reports
// how many were resumed.
func (o *Orchestrator) ResumeConsumers(sid core.SessionID) int {
	n := 0
	for _, c := range o.Registry.Consumers(sid) {
		if err := c.Resume(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("consumer", c.Id()).Msg("resume consumer")
			continue
		}
		n++
	}
	return n
}

// DisconnectResult tells the adapter who to notify about the departure.
type DisconnectResult struct {
	RoomID     domain.RoomID
	ProducerID string
	Notify     []app.PeerSnap
}

// Disconnect removes sid and tears down everything it owned. When the
// departing session produced media, the open same-room peers are
// returned for the disconnect broadcast. When the room empties, its
// router is destroyed and any active restream is stopped.
func (o *Orchestrator) Disconnect(sid core.SessionID) *DisconnectResult {
	res, remaining := o.Registry.Remove(sid)
	if res == nil {
		return nil
	}

	for _, c := range res.Consumers {
		_ = c.Close()
	}
	if res.Producer != nil {
		_ = res.Producer.Close()
	}
	if res.ProducerTransport != nil {
		_ = res.ProducerTransport.Close()
	}
	if res.ConsumerTransport != nil {
		_ = res.ConsumerTransport.Close()
	}

	out := &DisconnectResult{RoomID: res.RoomID}
	if res.Producer != nil && res.RoomID != "" {
		out.ProducerID = res.Producer.Id()
		out.Notify = openPeers(o.Registry.Peers(res.RoomID, sid))
	}

	if res.RoomID != "" && remaining == 0 {
		if o.Streamer != nil {
			if err := o.Streamer.Stop(res.RoomID); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("room", string(res.RoomID)).Msg("stop stream on empty room")
			}
		}
		o.Engine.CloseRouter(string(res.RoomID))
	}
	return out
}

func openPeers(peers []app.PeerSnap) []app.PeerSnap {
	out := peers[:0]
	for _, p := range peers {
		if p.Conn != nil && p.Conn.Open() {
			out = append(out, p)
		}
	}
	return out
}
