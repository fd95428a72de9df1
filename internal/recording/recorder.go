// Package recording runs the per-room HLS restreaming pipeline: plain
// RTP transports out of the media engine, SDP descriptions on disk, and
// one external transcoder process per room.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/domain"
	"github.com/mkrajcer/castroom/internal/engine"
)

var (
	ErrAlreadyActive = errors.New("stream already active for room")
	ErrNoVideo       = errors.New("room has no video producers")
)

// At most this many tracks of each kind feed the combined stream.
const maxTracksPerKind = 2

type Config struct {
	HlsDir     string
	FfmpegPath string
	// BasePort is the bottom of the RTP port range handed to plain
	// transports.
	BasePort uint16
	// StopGrace bounds how long a signaled transcoder may linger before
	// it is force-killed.
	StopGrace      time.Duration
	SegmentSeconds int
	PlaylistSize   int
}

// pipeline is the live state of one room's restream.
type pipeline struct {
	proc       process
	transports []engine.PlainTransport
	consumers  []engine.Consumer
	sdpFiles   []string
	rtpPorts   []uint16

	// stopping is set by Stop while the pipeline is still starting up
	// (proc not yet published); Start then owns the teardown. Guarded
	// by Restreamer.mu.
	stopping bool
}

// Restreamer owns every active pipeline. It satisfies the orchestrator's
// Streamer interface.
type Restreamer struct {
	cfg   Config
	ports *portAllocator
	start startFunc

	mu     sync.Mutex
	active map[domain.RoomID]*pipeline
}

func NewRestreamer(cfg Config) (*Restreamer, error) {
	if cfg.FfmpegPath == "" {
		cfg.FfmpegPath = "ffmpeg"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 2
	}
	if cfg.PlaylistSize <= 0 {
		cfg.PlaylistSize = 3
	}
	if err := os.MkdirAll(cfg.HlsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create hls dir: %w", err)
	}
	return &Restreamer{
		cfg:    cfg,
		ports:  newPortAllocator(cfg.BasePort),
		start:  startProcess,
		active: make(map[domain.RoomID]*pipeline),
	}, nil
}

func (r *Restreamer) Active(roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[roomID]
	return ok
}

// Start brings up the room's pipeline: one plain transport and paused
// consumer per selected producer, SDP files on disk, then the transcoder
// process. Consumers are resumed only after the process is running, so
// it is already listening on the allocated ports when RTP starts
// flowing.
func (r *Restreamer) Start(roomID domain.RoomID, router engine.Router, videoProducers, audioProducers []engine.Producer) error {
	if len(videoProducers) == 0 {
		return ErrNoVideo
	}
	if len(videoProducers) > maxTracksPerKind {
		videoProducers = videoProducers[:maxTracksPerKind]
	}
	if len(audioProducers) > maxTracksPerKind {
		audioProducers = audioProducers[:maxTracksPerKind]
	}

	r.mu.Lock()
	if _, ok := r.active[roomID]; ok {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	// Reserve the slot before the engine calls so a concurrent Start
	// for the same room bails out above.
	pl := &pipeline{}
	r.active[roomID] = pl
	r.mu.Unlock()

	inputs, err := r.setupTracks(pl, roomID, router, videoProducers, audioProducers)
	var proc process
	if err == nil {
		args := buildArgs(inputs, r.cfg.HlsDir, string(roomID), r.cfg.SegmentSeconds, r.cfg.PlaylistSize)
		log.Info().Str("module", "recording").Str("room", string(roomID)).Int("tracks", len(inputs)).Msg("spawning transcoder")
		proc, err = r.start(r.cfg.FfmpegPath, args)
	}

	// A Stop that arrived during setup only flagged the pipeline; the
	// teardown happens here, once, including any process the spawn won.
	r.mu.Lock()
	if err != nil || pl.stopping {
		stopped := pl.stopping
		delete(r.active, roomID)
		r.mu.Unlock()
		if proc != nil {
			r.terminate(roomID, proc)
		}
		r.cleanup(roomID, pl)
		if err != nil {
			return err
		}
		log.Info().Str("module", "recording").Str("room", string(roomID)).Bool("stopped", stopped).Msg("stream stopped during start")
		return nil
	}
	pl.proc = proc
	r.mu.Unlock()

	go r.watch(roomID, pl)

	for _, c := range pl.consumers {
		if err := c.Resume(); err != nil {
			log.Warn().Err(err).Str("module", "recording").Str("room", string(roomID)).Str("consumer", c.Id()).Msg("resume consumer")
		}
	}
	log.Info().Str("module", "recording").Str("room", string(roomID)).Msg("stream started")
	return nil
}

// setupTracks allocates ports, creates the plain transport and paused
// consumer for each producer, and writes the SDP file describing the
// resulting RTP stream. Partially built state lands in pl so the caller
// can clean up on failure.
func (r *Restreamer) setupTracks(pl *pipeline, roomID domain.RoomID, router engine.Router, videoProducers, audioProducers []engine.Producer) ([]trackInput, error) {
	var inputs []trackInput
	for _, p := range append(append([]engine.Producer{}, videoProducers...), audioProducers...) {
		rtpPort, rtcpPort := r.ports.Get()
		pl.rtpPorts = append(pl.rtpPorts, rtpPort)

		t, err := router.CreatePlainTransport(engine.ListenConfig{IP: localIP})
		if err != nil {
			return nil, fmt.Errorf("plain transport: %w", err)
		}
		pl.transports = append(pl.transports, t)
		if err := t.Connect(localIP, rtpPort, rtcpPort); err != nil {
			return nil, fmt.Errorf("connect plain transport: %w", err)
		}

		c, err := t.Consume(p.Id(), router.RtpCapabilities(), true)
		if err != nil {
			return nil, fmt.Errorf("consume producer %s: %w", p.Id(), err)
		}
		pl.consumers = append(pl.consumers, c)

		body, err := buildSDP(p.Kind(), rtpPort, rtcpPort, c.RtpParameters())
		if err != nil {
			return nil, fmt.Errorf("describe producer %s: %w", p.Id(), err)
		}
		sdpPath := filepath.Join(r.cfg.HlsDir, fmt.Sprintf("%s_%s_%s.sdp", roomID, p.Id(), p.Kind()))
		if err := os.WriteFile(sdpPath, body, 0o644); err != nil {
			return nil, fmt.Errorf("write sdp: %w", err)
		}
		pl.sdpFiles = append(pl.sdpFiles, sdpPath)
		inputs = append(inputs, trackInput{kind: p.Kind(), sdpPath: sdpPath})
	}
	return inputs, nil
}

// watch reaps the pipeline when the transcoder exits on its own. Stop
// removes the entry first, so a signaled exit is ignored here.
func (r *Restreamer) watch(roomID domain.RoomID, pl *pipeline) {
	<-pl.proc.Done()
	err := pl.proc.Err()

	r.mu.Lock()
	current, ok := r.active[roomID]
	if !ok || current != pl {
		r.mu.Unlock()
		return
	}
	delete(r.active, roomID)
	r.mu.Unlock()

	log.Warn().Err(err).Str("module", "recording").Str("room", string(roomID)).Msg("transcoder exited")
	r.cleanup(roomID, pl)
}

// Stop tears the room's pipeline down. The transcoder gets a graceful
// termination signal and the grace window before it is force-killed.
// No-op without an active pipeline. A pipeline still starting up is
// flagged instead; the Start call in flight performs the teardown.
func (r *Restreamer) Stop(roomID domain.RoomID) error {
	r.mu.Lock()
	pl, ok := r.active[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if pl.proc == nil {
		pl.stopping = true
		r.mu.Unlock()
		return nil
	}
	delete(r.active, roomID)
	r.mu.Unlock()

	r.terminate(roomID, pl.proc)
	r.cleanup(roomID, pl)
	log.Info().Str("module", "recording").Str("room", string(roomID)).Msg("stream stopped")
	return nil
}

// terminate signals the transcoder and force-kills it once the grace
// window runs out.
func (r *Restreamer) terminate(roomID domain.RoomID, proc process) {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Warn().Err(err).Str("module", "recording").Str("room", string(roomID)).Msg("signal transcoder")
	}
	select {
	case <-proc.Done():
	case <-time.After(r.cfg.StopGrace):
		log.Warn().Str("module", "recording").Str("room", string(roomID)).Msg("transcoder did not exit, killing")
		_ = proc.Kill()
		<-proc.Done()
	}
}

// cleanup closes the engine resources, removes every file the pipeline
// produced and returns the port pairs to the allocator.
func (r *Restreamer) cleanup(roomID domain.RoomID, pl *pipeline) {
	for _, c := range pl.consumers {
		_ = c.Close()
	}
	for _, t := range pl.transports {
		_ = t.Close()
	}
	for _, f := range pl.sdpFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("module", "recording").Str("file", f).Msg("remove sdp")
		}
	}
	r.removeOutputs(roomID)
	for _, port := range pl.rtpPorts {
		r.ports.Put(port)
	}
}

// removeOutputs deletes the playlist and every segment prefixed with the
// room id.
func (r *Restreamer) removeOutputs(roomID domain.RoomID) {
	playlist := filepath.Join(r.cfg.HlsDir, string(roomID)+"_playlist.m3u8")
	if err := os.Remove(playlist); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("module", "recording").Str("file", playlist).Msg("remove playlist")
	}
	segments, err := filepath.Glob(filepath.Join(r.cfg.HlsDir, string(roomID)+"_*.ts"))
	if err != nil {
		return
	}
	for _, seg := range segments {
		if err := os.Remove(seg); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("module", "recording").Str("file", seg).Msg("remove segment")
		}
	}
}
