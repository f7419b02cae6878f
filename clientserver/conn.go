// ABOUTME: Deadline-aware frame reading over a net.Conn used by both ends of the protocol.
// ABOUTME: An idle poll timeout only applies before the first header byte, so a slow frame never desyncs the stream.
package clientserver

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// errIdle means no frame started arriving within the poll timeout.
var errIdle = errors.New("clientserver: idle")

// frameReader reads frames from a connection with two deadlines: a short
// one for the start of the next frame and a longer one for the remainder.
type frameReader struct {
	conn      net.Conn
	ioTimeout time.Duration
}

func (r frameReader) next(poll time.Duration) (Message, error) {
	first := make([]byte, 1)

	if err := r.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return Message{}, err
	}
	if _, err := io.ReadFull(r.conn, first); err != nil {
		if isTimeout(err) {
			return Message{}, errIdle
		}
		return Message{}, err
	}

	// The frame has started; the rest of it gets the full I/O budget.
	if err := r.conn.SetReadDeadline(time.Now().Add(r.ioTimeout)); err != nil {
		return Message{}, err
	}
	return ReadMessage(io.MultiReader(bytes.NewReader(first), r.conn))
}

func (r frameReader) write(kind Kind, payload []byte) error {
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.ioTimeout)); err != nil {
		return err
	}
	return WriteMessage(r.conn, kind, payload)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
