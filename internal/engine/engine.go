// Package engine wraps the external media engine behind a bounded
// worker pool, a per-room router cache and transport factories.
package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// workerDiedExitDelay is the grace delay before the process exits after
// an irrecoverable worker failure. There is no in-process recovery;
// external supervision restarts the server.
const workerDiedExitDelay = time.Second

// Fixed codec set every router is created with.
var mediaCodecs = []*mediasoup.RtpCodecCapability{
	{
		Kind:      mediasoup.MediaKind("audio"),
		MimeType:  "audio/opus",
		ClockRate: 48000,
		Channels:  2,
	},
	{
		Kind:      mediasoup.MediaKind("video"),
		MimeType:  "video/VP8",
		ClockRate: 90000,
	},
}

type Config struct {
	// WorkerCount is the pool capacity. Workers are created lazily up
	// to this count, then reused round-robin.
	WorkerCount int
	Listen      ListenConfig
}

type Engine struct {
	cfg       Config
	newWorker WorkerFactory

	mu      sync.Mutex
	workers []Worker
	next    int

	routersMu sync.RWMutex
	routers   map[string]Router
	group     singleflight.Group

	// fatal runs when a worker dies. Overridable in tests.
	fatal func(err error)
}

func New(cfg Config, factory WorkerFactory) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	e := &Engine{
		cfg:       cfg,
		newWorker: factory,
		routers:   make(map[string]Router),
	}
	e.fatal = func(err error) {
		log.Error().Err(err).Str("module", "engine").Msg("worker died, exiting")
		time.AfterFunc(workerDiedExitDelay, func() { os.Exit(1) })
	}
	return e
}

// Worker returns a pool worker, creating one while the pool is below
// capacity and cycling round-robin afterwards.
func (e *Engine) Worker() (Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.workers) < e.cfg.WorkerCount {
		w, err := e.newWorker()
		if err != nil {
			return nil, fmt.Errorf("create worker: %w", err)
		}
		w.OnDied(func(err error) { e.fatal(err) })
		e.workers = append(e.workers, w)
		log.Info().Str("module", "engine").Int("pid", w.Pid()).Int("pool", len(e.workers)).Msg("worker created")
		return w, nil
	}

	w := e.workers[e.next]
	e.next = (e.next + 1) % e.cfg.WorkerCount
	return w, nil
}

// Router returns the router for roomID, creating it on first use.
// Creation is serialized per room id so concurrent joins to a brand-new
// room end up sharing a single router.
func (e *Engine) Router(roomID string) (Router, error) {
	e.routersMu.RLock()
	r, ok := e.routers[roomID]
	e.routersMu.RUnlock()
	if ok {
		return r, nil
	}

	v, err, _ := e.group.Do(roomID, func() (any, error) {
		e.routersMu.RLock()
		r, ok := e.routers[roomID]
		e.routersMu.RUnlock()
		if ok {
			return r, nil
		}

		w, err := e.Worker()
		if err != nil {
			return nil, err
		}
		r, err = w.CreateRouter(mediaCodecs)
		if err != nil {
			return nil, fmt.Errorf("create router: %w", err)
		}

		e.routersMu.Lock()
		e.routers[roomID] = r
		e.routersMu.Unlock()
		log.Info().Str("module", "engine").Str("room", roomID).Str("router", r.Id()).Msg("router created")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Router), nil
}

// RouterOf returns the cached router for roomID without creating one.
func (e *Engine) RouterOf(roomID string) (Router, bool) {
	e.routersMu.RLock()
	defer e.routersMu.RUnlock()
	r, ok := e.routers[roomID]
	return r, ok
}

// CloseRouter drops the router for roomID and closes it. Called when
// the last member leaves the room.
func (e *Engine) CloseRouter(roomID string) {
	e.routersMu.Lock()
	r, ok := e.routers[roomID]
	delete(e.routers, roomID)
	e.routersMu.Unlock()
	if !ok {
		return
	}
	if err := r.Close(); err != nil {
		log.Warn().Err(err).Str("module", "engine").Str("room", roomID).Msg("router close")
	}
	log.Info().Str("module", "engine").Str("room", roomID).Msg("router closed")
}

// CreateWebRtcTransport creates an ICE/DTLS transport on r bound to the
// configured listen address.
func (e *Engine) CreateWebRtcTransport(r Router) (WebRtcTransport, error) {
	t, err := r.CreateWebRtcTransport(e.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("create webrtc transport: %w", err)
	}
	return t, nil
}

// CreatePlainTransport creates a raw-RTP transport for local
// consumption by the restreaming pipeline.
func (e *Engine) CreatePlainTransport(r Router) (PlainTransport, error) {
	t, err := r.CreatePlainTransport(e.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("create plain transport: %w", err)
	}
	return t, nil
}

// Close tears down all routers and workers. Shutdown only.
func (e *Engine) Close() {
	e.routersMu.Lock()
	routers := e.routers
	e.routers = make(map[string]Router)
	e.routersMu.Unlock()
	for _, r := range routers {
		_ = r.Close()
	}

	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()
	for _, w := range workers {
		_ = w.Close()
	}
}
