package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// ErrClosed is returned when reading from a connection that was closed
// locally.
var ErrClosed = errors.New("transport: connection closed")

// Defaults used when Options leaves a field zero.
const (
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 5 * time.Second
)

// Options configures an upgraded connection.
type Options struct {
	// QueueSize is the depth of the outbound frame queue. Frames sent while
	// the queue is full are dropped.
	QueueSize int
	// WriteTimeout bounds each frame write on the socket.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type frame struct {
	op      ws.OpCode
	payload []byte
}

// Conn is a server-side WebSocket connection. Reads happen on the caller's
// goroutine via ReadMessage; writes go through a bounded queue drained by a
// dedicated writer goroutine, so Send and Ping never block.
type Conn struct {
	id           string
	remoteAddr   string
	raw          net.Conn
	src          io.Reader
	writeTimeout time.Duration
	logger       *slog.Logger

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once

	// wmu serializes whole frames on raw: the writer goroutine and control
	// replies from the read loop both write.
	wmu sync.Mutex
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// writer goroutine. The connection is identified by a fresh UUID.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	raw, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("upgrading websocket: %w", err)
	}
	// Clear any deadlines the HTTP server left on the hijacked socket.
	raw.SetDeadline(time.Time{}) //nolint:errcheck

	c := newConn(raw, r.RemoteAddr, opts)
	if rw != nil && rw.Reader.Buffered() > 0 {
		c.src = io.MultiReader(rw.Reader, raw)
	}
	return c, nil
}

func newConn(raw net.Conn, remoteAddr string, opts Options) *Conn {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	c := &Conn{
		id:           id,
		remoteAddr:   remoteAddr,
		raw:          raw,
		src:          raw,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger.With("conn_id", id),
		out:          make(chan frame, opts.QueueSize),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection's stable identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address as seen by the HTTP server.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send queues payload as a text frame. It reports false if the frame was
// dropped because the queue is full or the connection is closed.
func (c *Conn) Send(payload []byte) bool {
	return c.enqueue(frame{op: ws.OpText, payload: payload})
}

// Ping queues a ping control frame carrying payload (at most 125 bytes).
func (c *Conn) Ping(payload []byte) bool {
	if len(payload) > ws.MaxControlFramePayloadSize {
		payload = payload[:ws.MaxControlFramePayloadSize]
	}
	return c.enqueue(frame{op: ws.OpPing, payload: payload})
}

func (c *Conn) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Debug("outbound queue full, frame dropped", "opcode", f.op)
		return false
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			bts, err := ws.CompileFrame(ws.NewFrame(f.op, true, f.payload))
			if err != nil {
				c.logger.Debug("compiling frame", "error", err)
				continue
			}
			if err := c.writeRaw(bts); err != nil {
				// The read loop will observe the failure as a close.
				c.logger.Debug("websocket write failed", "error", err)
			}
		}
	}
}

func (c *Conn) writeRaw(bts []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err := c.raw.Write(bts)
	return err
}

// ReadMessage blocks until the next text or binary message arrives. Ping
// and close control frames are answered inline. It returns an error once the
// peer closes or the socket fails; the caller should then tear down.
func (c *Conn) ReadMessage() ([]byte, error) {
	var ctrlBuf bytes.Buffer
	ctrl := wsutil.ControlFrameHandler(&ctrlBuf, ws.StateServerSide)

	rd := &wsutil.Reader{
		Source:          c.src,
		State:           ws.StateServerSide,
		CheckUTF8:       true,
		SkipHeaderCheck: false,
		OnIntermediate:  ctrl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, c.readErr(err)
		}

		if hdr.OpCode.IsControl() {
			herr := ctrl(hdr, rd)
			if ctrlBuf.Len() > 0 {
				c.writeRaw(ctrlBuf.Bytes()) //nolint:errcheck
				ctrlBuf.Reset()
			}
			if herr != nil {
				return nil, c.readErr(herr)
			}
			continue
		}

		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return nil, c.readErr(err)
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return nil, c.readErr(err)
		}
		return data, nil
	}
}

func (c *Conn) readErr(err error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return err
}

// CloseWithMessage writes payload as a final text frame followed by a
// normal-closure frame, then closes the connection. It bypasses the queue,
// so frames still waiting there are discarded.
func (c *Conn) CloseWithMessage(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	text, err := ws.CompileFrame(ws.NewTextFrame(payload))
	if err != nil {
		c.Close() //nolint:errcheck
		return fmt.Errorf("compiling final frame: %w", err)
	}
	closing, err := ws.CompileFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	if err != nil {
		c.Close() //nolint:errcheck
		return fmt.Errorf("compiling close frame: %w", err)
	}

	werr := c.writeRaw(append(text, closing...))
	if cerr := c.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// Close tears down the socket and stops the writer. Queued frames that have
// not been written are discarded. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.raw.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }
