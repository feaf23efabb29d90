package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// maxMessageSize bounds a single framed message.
const maxMessageSize = 64 << 20

// UpdateCallback is called after every command a socket client executes.
type UpdateCallback func()

// SocketClient talks to a running socket server.
type SocketClient struct {
	conn net.Conn
}

// NewSocketClient connects to a running socket server.
func NewSocketClient(socketPath string) (*SocketClient, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.Errorf("failed to connect to socket server at %s: %w", socketPath, err)
	}

	return &SocketClient{conn: conn}, nil
}

// Close closes the connection to the socket server.
func (sc *SocketClient) Close() error {
	if sc.conn != nil {
		return sc.conn.Close()
	}
	return nil
}

// Execute sends a JSON command and returns the decoded response.
func (sc *SocketClient) Execute(cmdJSON string) (*Response, error) {
	if err := writeFrame(sc.conn, []byte(cmdJSON)); err != nil {
		return nil, err
	}

	data, err := readFrame(sc.conn)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// SocketServer serves a Workspace over a Unix domain socket. Clients are
// served concurrently and their commands run one at a time.
type SocketServer struct {
	socketPath string
	workspace  *Workspace
	listener   net.Listener
	logger     zerolog.Logger

	execMu    sync.Mutex
	mu        sync.Mutex
	callbacks []UpdateCallback

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewSocketServer creates a new socket server instance.
func NewSocketServer(socketPath string, workspace *Workspace) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		workspace:  workspace,
		logger:     zerolog.Nop(),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// SetUpdateCallback adds a callback run after each socket command.
func (ss *SocketServer) SetUpdateCallback(callback UpdateCallback) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.callbacks = append(ss.callbacks, callback)
}

// Start begins listening on the socket. The server stops when ctx is done
// or Stop is called.
func (ss *SocketServer) Start(ctx context.Context) error {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		ss.logger = l.With().Str("socket", ss.socketPath).Logger()
	}

	if err := os.Remove(ss.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", ss.socketPath)
	if err != nil {
		return errors.Errorf("failed to listen on socket %s: %w", ss.socketPath, err)
	}
	ss.listener = listener

	go func() {
		select {
		case <-ctx.Done():
			ss.Stop()
		case <-ss.done:
		}
	}()
	go ss.acceptConnections()

	ss.logger.Info().Msg("socket server listening")
	return nil
}

func (ss *SocketServer) acceptConnections() {
	for {
		conn, err := ss.listener.Accept()
		if err != nil {
			select {
			case <-ss.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			ss.logger.Error().Err(err).Msg("accepting connection")
			continue
		}

		go ss.handleClient(conn)
	}
}

func (ss *SocketServer) handleClient(conn net.Conn) {
	defer conn.Close()

	for {
		data, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ss.logger.Error().Err(err).Msg("reading from client")
			}
			return
		}

		ss.execMu.Lock()
		response := ss.workspace.ExecuteCommand(string(data))
		ss.execMu.Unlock()

		if err := writeFrame(conn, []byte(response)); err != nil {
			ss.logger.Error().Err(err).Msg("writing to client")
			return
		}

		ss.mu.Lock()
		callbacks := append([]UpdateCallback{}, ss.callbacks...)
		ss.mu.Unlock()
		for _, callback := range callbacks {
			callback()
		}
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (ss *SocketServer) Stop() error {
	var err error
	ss.stopOnce.Do(func() {
		close(ss.done)

		if ss.listener != nil {
			err = ss.listener.Close()
		}
		os.Remove(ss.socketPath)

		ss.logger.Info().Msg("socket server stopped")
		close(ss.stopped)
	})
	return errors.WithStack(err)
}

// Wait blocks until the server is fully shut down.
func (ss *SocketServer) Wait() {
	<-ss.stopped
}

// ============================================================================
// Length-Prefixed Protocol Implementation
// ============================================================================

// readFrame reads one message: a 4-byte big-endian length, then the data.
func readFrame(r io.Reader) ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, errors.WithStack(err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length > maxMessageSize {
		return nil, errors.Errorf("message of %d bytes exceeds limit of %d", length, maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// writeFrame writes one length-prefixed message.
func writeFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
