// Package worker owns one accepted connection: a reader goroutine decodes
// frames and posts them to the connection's lane, a writer goroutine drains the
// outbox onto the socket. Handlers always run on the lane.
package worker

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cyberinferno/chatrelay/lane"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/protocol"
	"github.com/cyberinferno/chatrelay/queue"
	"github.com/cyberinferno/chatrelay/wire"
)

// DefaultReadBufferSize is used when Options.ReadBufferSize is not positive.
const DefaultReadBufferSize = 4096

// DefaultMaxPendingFrames is used when Options.MaxPendingFrames is not
// positive. The reader stops reading while this many decoded frames of the
// connection still wait on its lane.
const DefaultMaxPendingFrames = 256

// DefaultMaxOutboxBytes is used when Options.MaxOutboxBytes is not positive.
const DefaultMaxOutboxBytes = 4 * wire.DefaultMaxFrameSize

const outboxCapacity = 16

// ErrOutboxFull ends a connection whose peer stopped reading while more than
// the outbox limit was queued for it.
var ErrOutboxFull = errors.New("worker: outbox limit exceeded")

// FrameHandler receives every decoded frame of a connection, in arrival order.
type FrameHandler func(w *Worker, obj wire.Object)

// DisconnectedHandler runs once when the connection ends normally: the peer
// closed it or Close was called.
type DisconnectedHandler func(w *Worker)

// TransportErrorHandler runs once when the connection ends on any other error.
type TransportErrorHandler func(w *Worker, err error)

// Options configures a Worker.
type Options struct {
	Logger         logger.Logger
	Metrics        *metrics.Metrics
	ReadBufferSize int
	MaxFrameSize   uint32
	// MaxPendingFrames bounds decoded frames waiting on the lane.
	MaxPendingFrames int
	// MaxOutboxBytes bounds encoded bytes queued but not yet written.
	MaxOutboxBytes int64
}

// Worker is the per-connection I/O engine. Exactly one of the disconnected or
// transport error handlers is invoked over the worker's lifetime.
type Worker struct {
	id      uuid.UUID
	conn    net.Conn
	lane    *lane.Lane
	logger  logger.Logger
	metrics *metrics.Metrics
	readBuf int

	decoder   *wire.Decoder
	outbox    *queue.Queue[[]byte]
	queued    atomic.Int64
	maxOutbox int64
	inflight  chan struct{}
	done      chan struct{}

	onFrame          FrameHandler
	onDisconnected   DisconnectedHandler
	onTransportError TransportErrorHandler

	userName  atomic.Value
	closing   atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Worker for conn bound to l. Register handlers before Start.
//
// Parameters:
//   - conn: The accepted connection; the worker takes ownership
//   - l: The lane every handler and send of this connection runs on
//   - opts: Logger, metrics and buffer limits
//
// Returns:
//   - The new Worker with a fresh connection ID
func New(conn net.Conn, l *lane.Lane, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	if opts.MaxPendingFrames <= 0 {
		opts.MaxPendingFrames = DefaultMaxPendingFrames
	}

	if opts.MaxOutboxBytes <= 0 {
		opts.MaxOutboxBytes = DefaultMaxOutboxBytes
	}

	id := uuid.New()
	w := &Worker{
		id:      id,
		conn:    conn,
		lane:    l,
		metrics: opts.Metrics,
		readBuf: opts.ReadBufferSize,
		decoder: wire.NewDecoder(opts.MaxFrameSize),
		outbox:    queue.New[[]byte](outboxCapacity),
		maxOutbox: opts.MaxOutboxBytes,
		inflight:  make(chan struct{}, opts.MaxPendingFrames),
		done:      make(chan struct{}),
		logger: opts.Logger.With(
			logger.Field{Key: "conn_id", Value: id.String()},
			logger.Field{Key: "remote", Value: remoteAddr(conn)},
			logger.Field{Key: "lane", Value: l.ID()},
		),
	}
	w.userName.Store("")

	return w
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}

	return ""
}

// ID returns the connection ID.
func (w *Worker) ID() uuid.UUID {
	return w.id
}

// LaneID returns the id of the lane the connection is pinned to.
func (w *Worker) LaneID() int {
	return w.lane.ID()
}

// Lane returns the lane the connection is pinned to.
func (w *Worker) Lane() *lane.Lane {
	return w.lane
}

// RemoteAddr returns the peer address as text.
func (w *Worker) RemoteAddr() string {
	return remoteAddr(w.conn)
}

// UserName returns the display name cached after a successful login, or "".
func (w *Worker) UserName() string {
	return w.userName.Load().(string)
}

// SetUserName caches the connection's display name.
func (w *Worker) SetUserName(name string) {
	w.userName.Store(name)
}

// OnFrame sets the frame handler.
func (w *Worker) OnFrame(h FrameHandler) {
	w.onFrame = h
}

// OnDisconnected sets the normal close handler.
func (w *Worker) OnDisconnected(h DisconnectedHandler) {
	w.onDisconnected = h
}

// OnTransportError sets the error close handler.
func (w *Worker) OnTransportError(h TransportErrorHandler) {
	w.onTransportError = h
}

// Start launches the reader and writer goroutines. Calls after the first are
// ignored.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}

	w.wg.Add(2)
	go w.readLoop()
	go w.writeLoop()
}

// Post schedules msg to be encoded and queued for sending on the worker's lane.
// It never blocks the caller. Messages posted after the connection closed are
// dropped. A peer that lets more than MaxOutboxBytes pile up is disconnected
// with ErrOutboxFull.
//
// Parameters:
//   - msg: The message to send
//
// Returns:
//   - false if the lane no longer accepts tasks
func (w *Worker) Post(msg protocol.Message) bool {
	return w.lane.Post(func() {
		w.send(msg)
	})
}

func (w *Worker) send(msg protocol.Message) {
	if w.outbox.Closed() {
		return
	}

	data, err := wire.Encode(msg)
	if err != nil {
		w.logger.Error("failed to encode message", logger.Field{Key: "kind", Value: msg.Kind().String()}, logger.Field{Key: "error", Value: err})
		return
	}

	if queued := w.queued.Add(int64(len(data))); queued > w.maxOutbox {
		w.logger.Warn("peer is not reading, closing connection", logger.Field{Key: "queued_bytes", Value: queued})
		w.finish(ErrOutboxFull)
		return
	}

	w.logger.Debug("frame queued", logger.Field{Key: "json", Value: string(data[wire.HeaderSize:])})
	w.outbox.Push(data)
}

// Close shuts the connection down. The disconnected handler runs unless a
// transport error was already reported. Safe to call multiple times.
func (w *Worker) Close() error {
	w.closing.Store(true)
	w.finish(nil)
	return nil
}

// Wait blocks until the reader and writer goroutines have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) readLoop() {
	defer w.wg.Done()

	buf := make([]byte, w.readBuf)
	for {
		n, err := w.conn.Read(buf)
		if n > 0 {
			frames, ferr := w.decoder.Feed(buf[:n])
			for _, f := range frames {
				w.dispatch(f)
			}

			if ferr != nil {
				w.finish(ferr)
				return
			}
		}

		if err != nil {
			w.finish(err)
			return
		}
	}
}

func (w *Worker) dispatch(f wire.Frame) {
	if f.Err != nil {
		w.metrics.FrameInvalid(metrics.ReasonDecode)
		w.logger.Debug("dropping malformed frame", logger.Field{Key: "error", Value: f.Err})
		return
	}

	w.metrics.FrameReceived()
	w.logger.Debug("frame received", logger.Field{Key: "json", Value: string(f.Raw)})

	select {
	case w.inflight <- struct{}{}:
	case <-w.done:
		return
	}

	obj := f.Object
	posted := w.lane.Post(func() {
		defer func() { <-w.inflight }()
		if w.onFrame != nil {
			w.onFrame(w, obj)
		}
	})
	if !posted {
		<-w.inflight
	}
}

func (w *Worker) writeLoop() {
	defer w.wg.Done()

	for {
		first, ok := w.outbox.Pop()
		if !ok {
			return
		}

		bufs := net.Buffers{first}
		for {
			next, ok := w.outbox.TryPop()
			if !ok {
				break
			}

			bufs = append(bufs, next)
		}

		n, err := bufs.WriteTo(w.conn)
		w.queued.Add(-n)
		if err != nil {
			w.finish(err)
			return
		}
	}
}

// finish closes the socket and the outbox and posts the single close event.
func (w *Worker) finish(err error) {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
		w.outbox.Close()

		if w.isNormalClose(err) {
			w.logger.Debug("connection closed")
			w.lane.Post(func() {
				if w.onDisconnected != nil {
					w.onDisconnected(w)
				}
			})
			return
		}

		w.logger.Warn("connection transport error", logger.Field{Key: "error", Value: err})
		w.lane.Post(func() {
			if w.onTransportError != nil {
				w.onTransportError(w, err)
			}
		})
	})
}

func (w *Worker) isNormalClose(err error) bool {
	if err == nil || w.closing.Load() {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
