package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrOpenTimeout  = errors.New("camera_open_timeout")
	ErrNotAvailable = errors.New("camera_not_available")
	ErrDisconnected = errors.New("camera_disconnected")
)

const (
	defaultOpenTimeout    = 20 * time.Second
	defaultStalenessLimit = 10 * time.Second

	reconnectInitial  = 2 * time.Second
	reconnectCap      = 30 * time.Second
	resetAfterSuccess = 3
)

// Source produces frames for one camera. Capture runs in a background
// goroutine at the configured FPS and recovers from transient failures with
// exponential backoff.
type Source struct {
	cameraID   string
	device     string
	kind       string
	fps        int
	width      int
	height     int
	ring       *Ring
	log        zerolog.Logger
	openTO     time.Duration
	staleLimit time.Duration

	seq         atomic.Uint64
	lastFrame   atomic.Int64 // unix nanos of last produced frame
	reopens     atomic.Uint64
	startFailed atomic.Bool

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	open   bool
}

type SourceOption func(*Source)

func WithOpenTimeout(d time.Duration) SourceOption {
	return func(s *Source) { s.openTO = d }
}

func WithStalenessLimit(d time.Duration) SourceOption {
	return func(s *Source) { s.staleLimit = d }
}

// NewSource builds a source feeding the given ring. Resolution is "WxH"
// or empty for the device default.
func NewSource(cameraID, device, kind, resolution string, fps int, ring *Ring, log zerolog.Logger, opts ...SourceOption) *Source {
	w, h := parseResolution(resolution)
	if fps <= 0 {
		fps = 2
	}
	s := &Source{
		cameraID:   cameraID,
		device:     device,
		kind:       kind,
		fps:        fps,
		width:      w,
		height:     h,
		ring:       ring,
		log:        log.With().Str("component", "camera").Str("camera_id", cameraID).Logger(),
		openTO:     defaultOpenTimeout,
		staleLimit: defaultStalenessLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func parseResolution(res string) (int, int) {
	var w, h int
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 640, 480
	}
	return w, h
}

// MaskCredentials strips user:pass from a URL before it reaches a log line.
func MaskCredentials(device string) string {
	if !strings.Contains(device, "://") {
		return device
	}
	u, err := url.Parse(device)
	if err != nil || u.User == nil {
		return device
	}
	u.User = url.User("***")
	return u.String()
}

// Open starts background capture and blocks until the first frame is
// produced or the open timeout elapses.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.open = true
	s.mu.Unlock()

	go s.captureLoop(runCtx)

	deadline := time.NewTimer(s.openTO)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-deadline.C:
			s.Close()
			if s.startFailed.Load() {
				return fmt.Errorf("%w: %s", ErrNotAvailable, MaskCredentials(s.device))
			}
			return fmt.Errorf("%w: no frame from %s within %s", ErrOpenTimeout, MaskCredentials(s.device), s.openTO)
		case <-tick.C:
			if s.lastFrame.Load() != 0 {
				return nil
			}
		}
	}
}

// GrabFrame returns the most recent frame. It fails with ErrDisconnected when
// no frame has been produced within the staleness window.
func (s *Source) GrabFrame() (*Frame, error) {
	f := s.ring.Latest()
	if f == nil {
		if s.startFailed.Load() {
			return nil, fmt.Errorf("%w: capture never started", ErrNotAvailable)
		}
		return nil, fmt.Errorf("%w: no frames yet", ErrDisconnected)
	}
	last := time.Unix(0, s.lastFrame.Load())
	if time.Since(last) > s.staleLimit {
		return nil, fmt.Errorf("%w: last frame %s ago", ErrDisconnected, time.Since(last).Round(time.Second))
	}
	return f, nil
}

// LastFrameAt reports when the source last produced a frame.
func (s *Source) LastFrameAt() time.Time {
	ns := s.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Reopens counts capture restarts since Open.
func (s *Source) Reopens() uint64 { return s.reopens.Load() }

// Close stops capture and releases the device or stream.
func (s *Source) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	cancel := s.cancel
	done := s.done
	cmd := s.cmd
	s.mu.Unlock()

	cancel()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if done != nil {
		<-done
	}
}

// captureLoop runs one capture session after another, backing off between
// failures and resetting the backoff after a run of successful reads.
func (s *Source) captureLoop(ctx context.Context) {
	defer close(s.done)

	backoff := reconnectInitial
	for {
		if ctx.Err() != nil {
			return
		}
		ok := s.captureOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if ok {
			backoff = reconnectInitial
		}
		s.reopens.Add(1)
		s.log.Warn().Dur("backoff", backoff).Msg("capture ended, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

// captureOnce runs a single ffmpeg session (or HTTP polling session) until it
// ends. Returns true when the session produced enough frames to count as a
// successful connection.
func (s *Source) captureOnce(ctx context.Context) bool {
	if s.kind == "http" && isStillImageURL(s.device) {
		return s.pollHTTP(ctx)
	}
	return s.runFFmpeg(ctx)
}

func isStillImageURL(device string) bool {
	return strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image")
}

// pollHTTP fetches still JPEGs from an HTTP endpoint at the camera FPS.
func (s *Source) pollHTTP(ctx context.Context) bool {
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(s.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	successes := 0
	for {
		select {
		case <-ctx.Done():
			return successes >= resetAfterSuccess
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.device, nil)
			if err != nil {
				s.startFailed.Store(true)
				return false
			}
			resp, err := client.Do(req)
			if err != nil {
				s.log.Debug().Err(err).Msg("http frame fetch failed")
				return successes >= resetAfterSuccess
			}
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil || len(data) < 4 {
				continue
			}
			s.produce(data)
			successes++
		}
	}
}

// runFFmpeg spawns ffmpeg in image2pipe mode and scans stdout for complete
// JPEG frames.
func (s *Source) runFFmpeg(ctx context.Context) bool {
	args := s.ffmpegArgs()
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.log.Error().Err(err).Msg("stdout pipe failed")
		s.startFailed.Store(true)
		return false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.log.Error().Err(err).Msg("stderr pipe failed")
		s.startFailed.Store(true)
		return false
	}
	if err := cmd.Start(); err != nil {
		s.log.Error().Err(err).Str("device", MaskCredentials(s.device)).Msg("ffmpeg start failed")
		s.startFailed.Store(true)
		return false
	}
	s.startFailed.Store(false)

	// Consume stderr so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	buf := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)
	successes := 0
	for {
		if ctx.Err() != nil {
			cmd.Wait()
			return successes >= resetAfterSuccess
		}
		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("frame read failed")
			}
			cmd.Wait()
			return successes >= resetAfterSuccess
		}
		buf = append(buf, chunk[:n]...)
		for {
			frame := ExtractJPEG(&buf)
			if frame == nil {
				break
			}
			s.produce(frame)
			successes++
		}
	}
}

func (s *Source) ffmpegArgs() []string {
	fps := fmt.Sprintf("%d", s.fps)
	switch {
	case strings.HasPrefix(s.device, "rtsp://"):
		// TCP transport avoids packet loss artifacts on flaky wifi.
		return []string{
			"-rtsp_transport", "tcp",
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fps,
			"-q:v", "5",
			"-",
		}
	case strings.HasPrefix(s.device, "http://"), strings.HasPrefix(s.device, "https://"):
		return []string{
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fps,
			"-q:v", "5",
			"-",
		}
	default:
		return []string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
			"-framerate", fps,
			"-i", s.device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		}
	}
}

func (s *Source) produce(data []byte) {
	f := &Frame{
		CameraID:  s.cameraID,
		Seq:       s.seq.Add(1),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Width:     s.width,
		Height:    s.height,
	}
	s.lastFrame.Store(f.Timestamp.UnixNano())
	s.ring.Push(f)
}

// maxScanBuffer bounds how much data is held while waiting for a frame's
// EOI marker. A stream that runs this long without one is corrupt.
const maxScanBuffer = 8 << 20

// ExtractJPEG pulls one complete JPEG (FFD8..FFD9) out of buf, consuming the
// bytes it used. Returns nil when no complete frame is present yet.
func ExtractJPEG(buf *[]byte) []byte {
	b := *buf
	if len(b) < 4 {
		return nil
	}
	start := -1
	for i := 0; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD8 {
			start = i
			break
		}
	}
	if start == -1 {
		// No SOI anywhere. Keep one byte in case a marker is split
		// across reads; the rest is noise.
		*buf = b[len(b)-1:]
		return nil
	}
	end := -1
	for i := start + 2; i < len(b)-1; i++ {
		if b[i] == 0xFF && b[i+1] == 0xD9 {
			end = i + 2
			break
		}
	}
	if end == -1 {
		if len(b)-start > maxScanBuffer {
			// Stale SOI with no closing marker in sight. Discard and
			// resync on the next frame boundary.
			*buf = b[:0]
		}
		return nil
	}
	frame := make([]byte, end-start)
	copy(frame, b[start:end])
	*buf = b[end:]
	return frame
}
