// Package stream publishes dewarped frames as a Motion JPEG stream over RTSP.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmjpeg"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/flatten/logging"
)

const (
	// DefaultPort is the RTSP port used when none is configured.
	DefaultPort = 8554
	// DefaultMountPoint is the path clients play the stream from.
	DefaultMountPoint = "/stream"

	clockRate = 90000
)

// ErrNotRunning is returned when frames are written before Start or after Close.
var ErrNotRunning = errors.New("rtsp stream is not running")

// Server serves a single shared MJPEG stream over RTSP/TCP.
type Server struct {
	mount  string
	logger logging.Logger
	clock  clock.Clock

	server  *gortsplib.Server
	desc    *description.Session
	encoder *rtpmjpeg.Encoder

	closeOnce sync.Once

	mu      sync.Mutex
	running bool
	stream  *gortsplib.ServerStream
	started time.Time
	frames  int
	clients int
}

// NewServer returns a stream listening on addr once started.
func NewServer(addr, mount string, logger logging.Logger) (*Server, error) {
	forma := &format.MJPEG{}
	encoder, err := forma.CreateEncoder()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create mjpeg packetizer")
	}
	s := &Server{
		mount:   normalizePath(mount),
		logger:  logger,
		clock:   clock.New(),
		encoder: encoder,
		desc: &description.Session{
			Medias: []*description.Media{{
				Type:    description.MediaTypeVideo,
				Formats: []format.Format{forma},
			}},
		},
	}
	s.server = &gortsplib.Server{
		Handler:     s,
		RTSPAddress: addr,
	}
	return s, nil
}

func normalizePath(p string) string {
	return "/" + strings.Trim(p, "/")
}

// Start binds the listener and makes the stream available.
func (s *Server) Start() error {
	if err := s.server.Start(); err != nil {
		return errors.Wrap(err, "cannot start rtsp server")
	}
	s.mu.Lock()
	s.running = true
	s.stream = gortsplib.NewServerStream(s.server, s.desc)
	s.started = s.clock.Now()
	s.mu.Unlock()
	s.logger.Infow("rtsp stream available", "address", s.server.RTSPAddress, "path", s.mount)
	return nil
}

// Run blocks until ctx is done or the server fails, then closes the stream.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		done <- s.server.Wait()
	})
	select {
	case <-ctx.Done():
		s.Close()
		<-done
		return nil
	case err := <-done:
		s.closeStream()
		return errors.Wrap(err, "rtsp server stopped")
	}
}

// Close stops serving. Later writes return ErrNotRunning. It is safe to call more than once,
// and before or after a failed Start.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.closeStream()
		s.mu.Lock()
		running := s.running
		s.running = false
		s.mu.Unlock()
		if running {
			s.server.Close()
		}
	})
}

func (s *Server) closeStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
}

// WriteFrame packetizes one JPEG image and sends it to every playing client.
func (s *Server) WriteFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ErrNotRunning
	}
	pkts, err := s.encoder.Encode(jpeg)
	if err != nil {
		return errors.Wrap(err, "cannot packetize frame")
	}
	ts := rtpTimestamp(s.clock.Since(s.started))
	for _, pkt := range pkts {
		pkt.Timestamp = ts
		if err := s.stream.WritePacketRTP(s.desc.Medias[0], pkt); err != nil {
			return errors.Wrap(err, "cannot write rtp packet")
		}
	}
	s.frames++
	if s.frames%100 == 1 {
		s.logger.Debugw("frame published",
			"frame", s.frames, "size", units.HumanSize(float64(len(jpeg))), "packets", len(pkts), "clients", s.clients)
	}
	return nil
}

// rtpTimestamp converts elapsed time to the 90kHz video clock, wrapping at 32 bits.
func rtpTimestamp(d time.Duration) uint32 {
	return uint32(int64(d/time.Microsecond) * clockRate / int64(time.Second/time.Microsecond))
}

// lookup accepts the mount point itself and media control paths below it.
func (s *Server) lookup(path string) (*gortsplib.ServerStream, bool) {
	p := normalizePath(path)
	if p != s.mount && !strings.HasPrefix(p, s.mount+"/") {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream, s.stream != nil
}

// OnSessionOpen implements gortsplib.ServerHandlerOnSessionOpen.
func (s *Server) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
	s.mu.Lock()
	s.clients++
	n := s.clients
	s.mu.Unlock()
	s.logger.Infow("rtsp client connected", "clients", n)
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (s *Server) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	s.mu.Lock()
	s.clients--
	n := s.clients
	s.mu.Unlock()
	s.logger.Infow("rtsp client disconnected", "clients", n, "reason", ctx.Error)
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Server) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	stream, ok := s.lookup(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	stream, ok := s.lookup(ctx.Path)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (s *Server) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}
