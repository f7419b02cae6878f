// ABOUTME: Length-prefixed message framing shared by the experiment server and the remote console client.
// ABOUTME: A frame is a one-byte ASCII kind, a nine-digit zero-padded decimal length, then the payload.
package clientserver

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind identifies the type of a framed message.
type Kind byte

// Message kinds. The numeric codes are carried on the wire as ASCII digits.
const (
	ServerRequest Kind = '0' // client poll: "send me whatever you have"
	NewScreen     Kind = '1'
	TrialData     Kind = '2'
	ParamRequest  Kind = '3'
	NewParams     Kind = '4'
	OldParams     Kind = '5' // no parameter change; always an empty payload
)

const (
	// LengthDigits is the width of the zero-padded decimal length field.
	LengthDigits = 9
	// HeaderSize is the kind byte plus the length field.
	HeaderSize = 1 + LengthDigits
	// MaxPayload is the largest payload the length field can describe.
	MaxPayload = 999_999_999
)

var (
	// ErrPayloadTooLarge is returned when a payload does not fit the length field.
	ErrPayloadTooLarge = errors.New("clientserver: payload exceeds header capacity")
	// ErrUnknownKind is returned for a kind byte outside the protocol enumeration.
	ErrUnknownKind = errors.New("clientserver: unknown message kind")
)

// HeaderError describes a header that could not be parsed.
type HeaderError struct {
	Header []byte
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("clientserver: malformed header %q: %s", e.Header, e.Reason)
}

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case ServerRequest:
		return "SERVER_REQUEST"
	case NewScreen:
		return "NEW_SCREEN"
	case TrialData:
		return "TRIAL_DATA"
	case ParamRequest:
		return "PARAM_REQUEST"
	case NewParams:
		return "NEW_PARAMS"
	case OldParams:
		return "OLD_PARAMS"
	default:
		return fmt.Sprintf("Kind(%q)", byte(k))
	}
}

// Valid reports whether k is one of the protocol's message kinds.
func (k Kind) Valid() bool {
	return k >= ServerRequest && k <= OldParams
}

// Message is a single decoded frame.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Encode frames payload under kind.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, byte(kind))
	buf = fmt.Appendf(buf, "%0*d", LengthDigits, len(payload))
	buf = append(buf, payload...)
	return buf, nil
}

// ParseHeader extracts the kind and declared payload length from a header.
func ParseHeader(h []byte) (Kind, int, error) {
	if len(h) != HeaderSize {
		return 0, 0, &HeaderError{Header: h, Reason: fmt.Sprintf("want %d bytes, got %d", HeaderSize, len(h))}
	}
	kind := Kind(h[0])
	if !kind.Valid() {
		return 0, 0, &HeaderError{Header: h, Reason: "unknown kind"}
	}
	for _, c := range h[1:] {
		if c < '0' || c > '9' {
			return 0, 0, &HeaderError{Header: h, Reason: "length is not a decimal number"}
		}
	}
	size, err := strconv.Atoi(string(h[1:]))
	if err != nil {
		return 0, 0, &HeaderError{Header: h, Reason: err.Error()}
	}
	return kind, size, nil
}

// WriteMessage frames and writes a message in a single Write call.
func WriteMessage(w io.Writer, kind Kind, payload []byte) error {
	frame, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %v: %w", kind, err)
	}
	return nil
}

// ReadMessage reads exactly one frame from r. The header and the payload are
// each read until satisfied, so a transport that fragments the frame is fine.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	return readBody(r, header)
}

// readBody parses an already-read header and reads the payload it declares.
func readBody(r io.Reader, header []byte) (Message, error) {
	kind, size, err := ParseHeader(header)
	if err != nil {
		return Message{}, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("read %v payload (%d bytes): %w", kind, size, err)
	}
	return Message{Kind: kind, Payload: payload}, nil
}
