package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/metrics"
)

// preConnectBuffer queues client frames received before the upstream
// connection is ready, enforcing a byte-size cap.
type preConnectBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	size     int64
	cap      int64
	overflow bool
}

func newPreConnectBuffer(cap int64) *preConnectBuffer {
	return &preConnectBuffer{cap: cap}
}

// push appends frame, returning false once the cap is exceeded.
func (b *preConnectBuffer) push(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.overflow {
		return false
	}
	b.size += int64(len(frame))
	if b.size > b.cap {
		b.overflow = true
		return false
	}
	b.frames = append(b.frames, frame)
	return true
}

func (b *preConnectBuffer) drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := b.frames
	b.frames = nil
	return frames
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionId")

	protocols := r.Header.Values("Sec-WebSocket-Protocol")
	if len(protocols) == 0 {
		protocols = []string{"tty"}
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   protocols,
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("terminal upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer client.CloseNow()

	userID, err := s.auth.ResolveUser(r)
	if err != nil {
		client.Close(websocket.StatusCode(1008), "Unauthorized")
		return
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil || sess == nil || sess.Status != domain.SessionRunning {
		client.Close(websocket.StatusCode(1008), "Session not found, not running, or access denied")
		return
	}
	project, _ := s.store.GetProject(ctx, sess.ProjectID)
	if !accessibleSession(sess, project, userID) {
		client.Close(websocket.StatusCode(1008), "Session not found, not running, or access denied")
		return
	}

	buf := newPreConnectBuffer(s.upstream.PreConnectBufferCap)
	bufferDone := make(chan struct{})
	bufferCtx, cancelBuffering := context.WithCancel(ctx)
	go s.bufferClientFrames(bufferCtx, client, buf, bufferDone)

	upstream, err := s.connectUpstream(ctx, sess.ContainerName, s.upstream.TerminalPort, protocols)
	cancelBuffering()
	<-bufferDone
	if err != nil {
		slog.Warn("connectUpstream failed", "session", sessionID, "error", err)
		client.Close(websocket.StatusCode(1011), "Could not connect to terminal")
		return
	}
	defer upstream.Close(websocket.StatusNormalClosure, "")

	if buf.overflow {
		client.Close(websocket.StatusCode(1009), "pre-connect buffer exceeded")
		return
	}
	for _, frame := range buf.drain() {
		if err := upstream.Write(ctx, websocket.MessageBinary, frame); err != nil {
			slog.Warn("drain to upstream failed", "session", sessionID, "error", err)
			return
		}
	}

	metrics.ProxyConnections.WithLabelValues("terminal").Inc()
	defer metrics.ProxyConnections.WithLabelValues("terminal").Dec()
	s.bridge(ctx, client, upstream, sessionID)
}

// bufferClientFrames reads client frames and queues them until ctx is
// canceled (upstream ready or connect failed), honoring the buffer cap.
func (s *Server) bufferClientFrames(ctx context.Context, client *websocket.Conn, buf *preConnectBuffer, done chan<- struct{}) {
	defer close(done)
	for {
		_, frame, err := client.Read(ctx)
		if err != nil {
			return
		}
		if !buf.push(frame) {
			return
		}
	}
}

// bridge pipes frames bidirectionally between client and upstream until
// either side closes or errors, propagating the upstream close code to the
// client when possible.
func (s *Server) bridge(ctx context.Context, client, upstream *websocket.Conn, sessionID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		for {
			typ, frame, err := client.Read(ctx)
			if err != nil {
				return
			}
			if err := upstream.Write(ctx, typ, frame); err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		for {
			typ, frame, err := upstream.Read(ctx)
			if err != nil {
				code := websocket.CloseStatus(err)
				if code != -1 {
					client.Close(code, "upstream closed")
				}
				return
			}
			if err := client.Write(ctx, typ, frame); err != nil {
				return
			}
		}
	}()

	wg.Wait()
	slog.Debug("terminal bridge ended", "session", sessionID)
}
