// Package web serves the frame history over HTTP.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/flatten/logging"
	"go.viam.com/flatten/rimage/history"
)

// DefaultPrefix is where the snapshot endpoint lives on the camera.
const DefaultPrefix = "/local/flatten_image"

// Server answers image.cgi requests from a history buffer.
type Server struct {
	buffer  *history.Buffer
	logger  logging.Logger
	mux     *goji.Mux
	handler http.Handler

	workers sync.WaitGroup
}

// NewServer returns a server for the frames in buffer, mounted under prefix.
func NewServer(buffer *history.Buffer, prefix string, logger logging.Logger) *Server {
	s := &Server{buffer: buffer, logger: logger, mux: goji.NewMux()}
	prefix = strings.TrimSuffix(prefix, "/")
	s.mux.HandleFunc(pat.Get(prefix+"/image.cgi"), s.serveImage)
	s.mux.HandleFunc(pat.Get(prefix+"/image.cgi/*"), s.serveImage)
	s.handler = cors.New(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodHead}}).Handler(s.mux)
	return s
}

// Handler returns the root handler. Snapshots may be fetched from any origin.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.workers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.workers.Done()
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorw("error shutting down", "error", err)
		}
	})

	s.logger.Infow("serving", "url", fmt.Sprintf("http://%s", lis.Addr()))
	if err := httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.workers.Wait()
	return nil
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	uri := r.RequestURI
	if uri == "" {
		http.Error(w, "Bad Request: no URI", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if tag, ok := r.URL.Query()["debug"]; ok {
		ctx = logging.WithDebugTag(ctx, strings.Join(tag, ""))
	}
	s.logger.CDebugw(ctx, "request", "uri", uri, "remote", r.RemoteAddr)

	index, ok := ParseImageIndex(uri)
	if !ok {
		http.Error(w, fmt.Sprintf("Not Found: use ?index=0 to ?index=%d", history.Capacity-1), http.StatusNotFound)
		return
	}
	frame, ok := s.buffer.Get(index)
	if !ok {
		s.logger.CDebugw(ctx, "no frame in slot", "index", index, "held", s.buffer.Len())
		http.Error(w, "Service Unavailable: no image yet", http.StatusServiceUnavailable)
		return
	}
	s.logger.CDebugw(ctx, "serving frame", "index", index, "bytes", len(frame))

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(frame); err != nil {
		s.logger.Debugw("error writing frame", "error", err)
	}
}

// ParseImageIndex extracts the frame index from a request URI. An index= query parameter is
// tried first, then the last path segment. Only indices held by a history buffer are valid.
func ParseImageIndex(uri string) (int, bool) {
	path, query, hasQuery := strings.Cut(uri, "?")
	if hasQuery {
		if at := strings.Index(query, "index="); at >= 0 {
			if n, ok := leadingInt(query[at+len("index="):]); ok && validIndex(n) {
				return n, true
			}
		}
	}

	slash := strings.LastIndexByte(path, '/')
	if slash < 0 || slash+1 >= len(path) {
		return 0, false
	}
	n, ok := leadingInt(path[slash+1:])
	if !ok || !validIndex(n) {
		return 0, false
	}
	return n, true
}

func validIndex(n int) bool {
	return n >= 0 && n < history.Capacity
}

// leadingInt parses the optionally signed decimal number at the start of s, ignoring anything
// after it.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// out of range for int
		return 0, false
	}
	return n, true
}
