package recording

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
)

// process is the running transcoder. The indirection exists so the
// pipeline logic can be driven without spawning real binaries.
type process interface {
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed when the process exits. More than one goroutine
	// waits on it.
	Done() <-chan struct{}
	// Err is the exit error, valid once Done is closed.
	Err() error
}

type startFunc func(bin string, args []string) (process, error)

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(bin string, args []string) (process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *osProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *osProcess) Done() <-chan struct{}      { return p.done }
func (p *osProcess) Err() error                 { return p.err }

// trackInput is one SDP-described RTP input to the transcoder.
type trackInput struct {
	kind    mediasoup.MediaKind
	sdpPath string
}

// buildArgs assembles the transcode invocation: every track enters
// through its SDP file, video tracks are scaled to a common size and
// stacked horizontally, audio tracks are merged, and the result is
// encoded once into a rolling HLS playlist keyed by room id.
func buildArgs(inputs []trackInput, hlsDir, roomID string, segmentSeconds, playlistSize int) []string {
	var args []string
	for _, in := range inputs {
		args = append(args, "-protocol_whitelist", "file,udp,rtp", "-i", in.sdpPath)
	}

	var videoParts, audioParts []string
	var videoOuts, audioOuts []string
	for i, in := range inputs {
		switch in.kind {
		case mediasoup.MediaKind("video"):
			n := len(videoOuts)
			videoParts = append(videoParts, fmt.Sprintf("[%d:v]scale=640:480,setpts=PTS-STARTPTS[v%d]", i, n))
			videoOuts = append(videoOuts, fmt.Sprintf("[v%d]", n))
		case mediasoup.MediaKind("audio"):
			n := len(audioOuts)
			audioParts = append(audioParts, fmt.Sprintf("[%d:a]asetpts=PTS-STARTPTS[a%d]", i, n))
			audioOuts = append(audioOuts, fmt.Sprintf("[a%d]", n))
		}
	}

	var filter string
	if len(videoOuts) > 0 {
		filter += strings.Join(videoParts, ";") + ";"
		if len(videoOuts) > 1 {
			filter += strings.Join(videoOuts, "") + fmt.Sprintf("hstack=inputs=%d[outv]", len(videoOuts))
		} else {
			filter += videoOuts[0] + "copy[outv]"
		}
	}
	if len(audioOuts) > 0 {
		if filter != "" {
			filter += ";"
		}
		filter += strings.Join(audioParts, ";") + ";"
		if len(audioOuts) > 1 {
			filter += strings.Join(audioOuts, "") + fmt.Sprintf("amerge=inputs=%d[outa]", len(audioOuts))
		} else {
			// Single mono track still comes out as stereo.
			filter += audioOuts[0] + "pan=stereo|c0<c0|c1<c0[outa]"
		}
	}

	args = append(args, "-filter_complex", filter)
	if len(videoOuts) > 0 {
		args = append(args, "-map", "[outv]")
	}
	if len(audioOuts) > 0 {
		args = append(args, "-map", "[outa]")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", strconv.Itoa(playlistSize),
		"-hls_flags", "delete_segments+omit_endlist",
		"-hls_segment_filename", filepath.Join(hlsDir, roomID+"_%03d.ts"),
		filepath.Join(hlsDir, roomID+"_playlist.m3u8"),
	)
	return args
}
