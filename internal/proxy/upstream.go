package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"

	"github.com/opencommander/opencommander/internal/metrics"
	"github.com/opencommander/opencommander/internal/ocerr"
)

// connectUpstream tries up to s.upstream.Attempts times, spaced
// s.upstream.AttemptSpacing apart, each attempt trying a direct WebSocket
// dial to the container first and falling back to an exec-tunnel through
// the container daemon when the container network is not routable from
// this host.
func (s *Server) connectUpstream(ctx context.Context, containerName, port string, protocols []string) (*websocket.Conn, error) {
	attempts := s.upstream.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := s.dialDirect(ctx, containerName, port, protocols)
		if err == nil {
			metrics.ProxyUpstreamAttempts.WithLabelValues("direct", "ok").Inc()
			return conn, nil
		}
		metrics.ProxyUpstreamAttempts.WithLabelValues("direct", "error").Inc()
		lastErr = err

		conn, err = s.dialExecTunnel(ctx, containerName, port, protocols)
		if err == nil {
			metrics.ProxyUpstreamAttempts.WithLabelValues("exec_tunnel", "ok").Inc()
			return conn, nil
		}
		metrics.ProxyUpstreamAttempts.WithLabelValues("exec_tunnel", "error").Inc()
		lastErr = err

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.upstream.AttemptSpacing):
			}
		}
	}
	return nil, ocerr.New(ocerr.KindUpstreamUnavailable, "proxy.connectUpstream", fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr))
}

// dialDirect attempts attempt A: a direct WebSocket dial to the container's
// routable address, bounded by DirectOpenTimeout.
func (s *Server) dialDirect(ctx context.Context, containerName, port string, protocols []string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.upstream.DirectOpenTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%s/ws", containerName, port)
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		Subprotocols: protocols,
	})
	if err != nil {
		return nil, fmt.Errorf("direct dial %s: %w", url, err)
	}
	return conn, nil
}

// dialExecTunnel attempts attempt B: a single-shot loopback listener backed
// by `exec -i <name> nc localhost <port>` inside the container daemon, used
// when the container network is not reachable directly from this host.
func (s *Server) dialExecTunnel(ctx context.Context, containerName, port string, protocols []string) (*websocket.Conn, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen loopback: %w", err)
	}
	addr := listener.Addr().String()

	stream, err := s.driver.ExecAttach(ctx, containerName, []string{"nc", "localhost", port})
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("exec tunnel attach: %w", err)
	}

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		listener.Close()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	dialDone := make(chan dialResult, 1)
	go func() {
		url := fmt.Sprintf("ws://%s/ws", addr)
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			Subprotocols: protocols,
		})
		dialDone <- dialResult{conn: conn, err: err}
	}()

	var tcpConn net.Conn
	select {
	case tcpConn = <-accepted:
	case err := <-acceptErr:
		stream.Close()
		return nil, fmt.Errorf("exec tunnel accept: %w", err)
	case <-time.After(s.upstream.DirectOpenTimeout):
		stream.Close()
		return nil, fmt.Errorf("exec tunnel accept timed out")
	}

	go spliceBidirectional(tcpConn, stream)

	result := <-dialDone
	if result.err != nil {
		stream.Close()
		return nil, fmt.Errorf("exec tunnel dial %s: %w", addr, result.err)
	}
	return result.conn, nil
}

// spliceBidirectional pipes tcpConn <-> stream until either side closes.
func spliceBidirectional(tcpConn net.Conn, stream io.ReadWriteCloser) {
	defer tcpConn.Close()
	defer stream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(stream, tcpConn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(tcpConn, stream)
		done <- struct{}{}
	}()
	<-done
}
