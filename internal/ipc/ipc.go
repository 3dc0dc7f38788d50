// Package ipc implements the transport between a roofline collector
// runtime and the profiler (spec.md §4.7, §6.2): a capability-style
// single-method channel (`post(message)`) over a local unix-domain
// socket, carrying length-prefixed IpcMessage frames.
package ipc

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/nanoprof/miniperf/internal/wire"
)

// Server accepts exactly one connection per pass, matching one
// collector runtime instance (spec.md §4.7), and hands decoded messages
// to the caller via Post.
type Server struct {
	listener net.Listener
	path     string

	mu       sync.Mutex
	conn     net.Conn
	interner *Interner
}

// Listen opens the unix-domain socket at path. An existing stale socket
// file at path is removed first so a previous, uncleanly-terminated
// session doesn't block re-binding.
func Listen(path string) (*Server, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	return &Server{listener: l, path: path, interner: NewInterner()}, nil
}

// Accept blocks for the single collector-runtime connection this pass
// expects.
func (s *Server) Accept() error {
	conn, err := s.listener.Accept()
	if err != nil {
		return fmt.Errorf("ipc: accept: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Post is the transport's single method (spec.md §4.7): it reads the
// next framed IpcMessage from the accepted connection, resolving any
// IpcString frame into the Interner before handing the message to fn.
// Post returns the read error unchanged (io.EOF when the peer closes
// the connection), without an merr kind, letting the caller classify it.
func (s *Server) Post(fn func(wire.IpcMessage)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ipc: Post called before Accept")
	}

	r := bufio.NewReader(conn)
	for {
		msg, err := wire.ReadIpcMessage(r)
		if err != nil {
			return err
		}
		if msg.Kind == wire.IpcKindString {
			s.interner.Put(msg.String.Key, msg.String.Value)
		}
		fn(msg)
	}
}

// Interner returns the string table this server's Post calls populate.
func (s *Server) Interner() *Interner {
	return s.interner
}

// Close shuts down the listener and any accepted connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	err := s.listener.Close()
	removeStaleSocket(s.path)
	return err
}

// Client is the collector-runtime side of the transport: it dials the
// socket named by MINIPERF_IPC_SOCKET and posts messages one way.
type Client struct {
	conn net.Conn
}

// Dial connects to the profiler's IPC endpoint at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Post sends one framed message to the server.
func (c *Client) Post(msg wire.IpcMessage) error {
	return wire.WriteIpcMessage(c.conn, msg)
}

// Close closes the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
