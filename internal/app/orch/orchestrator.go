// Package orch sequences signaling operations against the session
// store and the media engine.
package orch

import (
	"errors"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"

	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/domain"
	"github.com/mkrajcer/castroom/internal/engine"
)

var (
	ErrCannotConsume = errors.New("incompatible rtp capabilities")
	ErrRoomNotFound  = errors.New("room not found")
)

// Streamer drives the per-room restreaming pipeline.
type Streamer interface {
	Start(roomID domain.RoomID, router engine.Router, videoProducers, audioProducers []engine.Producer) error
	Stop(roomID domain.RoomID) error
	Active(roomID domain.RoomID) bool
}

type Orchestrator struct {
	Registry *app.Registry
	Engine   *engine.Engine
	Streamer Streamer
}

// Connect registers a fresh session for a new connection.
func (o *Orchestrator) Connect(sid core.SessionID, conn core.SignalConnection) {
	o.Registry.Bind(sid, conn)
}

// Rooms lists known rooms for the HTTP API.
func (o *Orchestrator) Rooms() []domain.RoomInfo {
	rooms := o.Registry.Rooms()
	if o.Streamer != nil {
		for i := range rooms {
			rooms[i].Streaming = o.Streamer.Active(rooms[i].ID)
		}
	}
	return rooms
}

// StartStream collects the room's producers and starts the restreaming
// pipeline. Out-of-band trigger, not part of the signaling protocol.
func (o *Orchestrator) StartStream(roomID domain.RoomID) error {
	if o.Streamer == nil {
		return ErrRoomNotFound
	}
	router, ok := o.Engine.RouterOf(string(roomID))
	if !ok {
		return ErrRoomNotFound
	}
	var video, audio []engine.Producer
	for _, p := range o.Registry.ProducersOf(roomID) {
		switch p.Kind() {
		case mediasoup.MediaKind("video"):
			video = append(video, p)
		case mediasoup.MediaKind("audio"):
			audio = append(audio, p)
		}
	}
	return o.Streamer.Start(roomID, router, video, audio)
}

// StopStream stops the room's restreaming pipeline if one is active.
func (o *Orchestrator) StopStream(roomID domain.RoomID) error {
	if o.Streamer == nil {
		return nil
	}
	return o.Streamer.Stop(roomID)
}
