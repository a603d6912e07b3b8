// Package dispatcher implements the server side of one remote worker
// process: a single long-lived process per incoming channel that reads
// one JSON object per line, looks up its action in a static table,
// invokes the handler, and writes the JSON-encoded result, looping
// until it receives "close" or EOF (Dispatcher component, §4.4).
package dispatcher

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/wireproto"
)

// Handler executes one registered remote action. argsData is the raw
// "arguments" object from the request; handlers decode it themselves
// into whatever shape they expect.
type Handler func(argsData json.RawMessage) (interface{}, error)

// LockChecker reports whether this node's lock is currently held by
// another operation — consulted by checkStatus so a locked node can
// actually reply not-ready instead of always claiming ["0"].
// internal/nodelock.Lock satisfies this directly.
type LockChecker interface {
	Held() bool
}

// Dispatcher is a static table mapping action names to handlers.
// Handlers run synchronously: there is no concurrency inside the
// worker (§4.4, §5).
type Dispatcher struct {
	handlers map[string]Handler
	log      *logrus.Logger
	lock     LockChecker
}

// New returns an empty Dispatcher with no lock awareness: checkStatus
// always replies ready. Use Register to populate the action table
// before calling Serve.
func New(log *logrus.Logger) *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}, log: log}
}

// NewWithLock is New plus a LockChecker: checkStatus replies
// wireproto.LockedStatus whenever lock.Held() is true, making the
// "checkStatus on a locked node returns something other than [\"0\"]"
// property observable against a real worker process.
func NewWithLock(log *logrus.Logger, lock LockChecker) *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}, log: log, lock: lock}
}

// Register binds action to handler. Registering the same action twice
// overwrites the previous binding; callers are expected to build the
// full table once at startup (see cmd/mcvirt-remote).
func (d *Dispatcher) Register(action string, handler Handler) {
	d.handlers[action] = handler
}

// Serve reads requests from r and writes responses to w until it reads
// the "close" sentinel action or hits EOF on r, per the framing
// contract in §6: one request per line in, at most one response line
// out, newline-delimited JSON in both directions.
func (d *Dispatcher) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	writer := bufio.NewWriter(w)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		requestID := uuid.NewString()

		var req wireproto.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if writeErr := d.writeFailure(writer, mcerrors.NewUnknownRemoteCommand(line)); writeErr != nil {
				return writeErr
			}
			continue
		}

		if req.Action == wireproto.CloseAction {
			if d.log != nil {
				d.log.WithField("request_id", requestID).Debug("received close sentinel")
			}
			return nil
		}

		if req.Action == wireproto.CheckStatusAction {
			status := wireproto.ReadyStatus
			if d.lock != nil && d.lock.Held() {
				status = wireproto.LockedStatus
			}
			if err := d.writeSuccess(writer, status); err != nil {
				return err
			}
			continue
		}

		handler, ok := d.handlers[req.Action]
		if !ok {
			if err := d.writeFailure(writer, mcerrors.NewUnknownRemoteCommand(req.Action)); err != nil {
				return err
			}
			continue
		}

		if d.log != nil {
			d.log.WithField("request_id", requestID).WithField("action", req.Action).Debug("dispatching action")
		}

		result, err := handler(req.Arguments)
		if err != nil {
			if writeErr := d.writeFailure(writer, err); writeErr != nil {
				return writeErr
			}
			continue
		}
		if err := d.writeSuccess(writer, result); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (d *Dispatcher) writeSuccess(w *bufio.Writer, result interface{}) error {
	data, err := wireproto.EncodeSuccess(result)
	if err != nil {
		return err
	}
	return writeLine(w, data)
}

func (d *Dispatcher) writeFailure(w *bufio.Writer, err error) error {
	envelope, encErr := mcerrors.MarshalForWire(err)
	if encErr != nil {
		return encErr
	}
	data, err := wireproto.EncodeFailure(envelope)
	if err != nil {
		return err
	}
	return writeLine(w, data)
}

func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
