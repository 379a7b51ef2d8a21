// Package forwarder implements the front-door forwarder: a raw TCP
// sniff-and-splice listener that routes each inbound connection to either
// the WebSocket proxy or the HTTP application port based on the first
// bytes of the request, before any HTTP server on either side has a
// chance to see it.
package forwarder

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
)

const sniffLimit = 512

var upgradePrefixes = []string{"/terminal/", "/presence/", "/sessions/"}

// Forwarder listens on a public address and splices connections to either
// the proxy or the HTTP application address depending on a peek at the
// first chunk.
type Forwarder struct {
	ListenAddr string
	ProxyAddr  string
	HTTPAddr   string
}

// New constructs a Forwarder.
func New(listenAddr, proxyAddr, httpAddr string) *Forwarder {
	return &Forwarder{ListenAddr: listenAddr, ProxyAddr: proxyAddr, HTTPAddr: httpAddr}
}

// Serve runs the accept loop until ctx is canceled or the listener errors.
func (f *Forwarder) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", f.ListenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go f.handle(conn)
	}
}

func (f *Forwarder) handle(client net.Conn) {
	reader := bufio.NewReaderSize(client, sniffLimit)

	// Peek(1) performs a single read, so only the first chunk the client
	// sent (at most sniffLimit bytes) is inspected; waiting for a full
	// sniffLimit bytes would stall on requests shorter than that.
	if _, err := reader.Peek(1); err != nil {
		client.Close()
		return
	}
	peek, _ := reader.Peek(reader.Buffered())

	target := f.HTTPAddr
	if isUpgradeRequest(peek) {
		target = f.ProxyAddr
	}

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		slog.Warn("forwarder: dial upstream failed", "target", target, "error", err)
		client.Close()
		return
	}

	// Forward whatever bufio already buffered before piping the raw
	// connection through, so the peeked bytes are never dropped.
	buffered := reader.Buffered()
	if buffered > 0 {
		chunk := make([]byte, buffered)
		if _, err := io.ReadFull(reader, chunk); err != nil {
			client.Close()
			upstream.Close()
			return
		}
		if _, err := upstream.Write(chunk); err != nil {
			client.Close()
			upstream.Close()
			return
		}
	}

	splice(client, upstream)
}

// isUpgradeRequest reports whether chunk looks like a WebSocket upgrade
// request to one of the proxy's path prefixes.
func isUpgradeRequest(chunk []byte) bool {
	text := string(bytes.ToValidUTF8(chunk, nil))
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "upgrade: websocket") {
		return false
	}
	if !strings.HasPrefix(text, "GET ") {
		return false
	}
	for _, prefix := range upgradePrefixes {
		if strings.HasPrefix(text, "GET "+prefix) {
			return true
		}
	}
	return false
}

func splice(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	<-done
	a.Close()
	b.Close()
}
