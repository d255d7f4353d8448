package sip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/textproto"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipengine/internal/util"
)

// ParsePacket parses a single SIP message from b.
//
// It assumes that b contains a full message, a missing Content-Length means
// the rest of the packet is the body.
// The party is attached to the parsed message, which is marked as incoming.
// If b contains more than one message only the first one is parsed.
func ParsePacket(b []byte, party Party) (*Msg, error) {
	br := bufio.NewReader(bytes.NewReader(b))
	msg, err := parseMessage(br, true)
	if msg != nil {
		msg.party = party
	}
	return msg, errtrace.Wrap(err)
}

// ParseStream returns an iterator over messages read from a byte stream.
// Every message of the stream must carry Content-Length.
//
// If an [io.EOF] happens in the middle of a message it is replaced with
// [io.ErrUnexpectedEOF]. The iterator ends after the first read error
// or when the consumer breaks the loop.
func ParseStream(r io.Reader, party Party) iter.Seq2[*Msg, error] {
	return func(yield func(*Msg, error) bool) {
		br := bufio.NewReader(r)
		for {
			msg, err := parseMessage(br, false)
			if msg != nil {
				msg.party = party
			}
			if !yield(msg, errtrace.Wrap(err)) {
				return
			}
			var perr *ParseError
			if err != nil && errors.As(err, &perr) && perr.State == ParseStateStart {
				return
			}
		}
	}
}

// ParseError represents an error that occurred during parsing.
//
// It contains the error that occurred, the current parsing state and the bytes that caused the error.
type ParseError struct {
	Err   error
	State ParseState
	Buf   []byte
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", err.Err)
}

func (err *ParseError) Unwrap() error { return err.Err }

type ParseState int

const (
	ParseStateStart   ParseState = iota // parsing message start line
	ParseStateHeaders                   // parsing message headers
	ParseStateBody                      // parsing message body
)

func parseMessage(rdr *bufio.Reader, packetMode bool) (*Msg, error) {
	var (
		state ParseState
		msg   *Msg
	)
	txtRdr := textproto.NewReader(rdr)
	for {
		switch state {
		case ParseStateStart:
			line, err := txtRdr.ReadLine()
			if err != nil {
				return nil, &ParseError{err, state, nil}
			}
			// keep-alive CRLFs between stream messages
			if line == "" && !packetMode {
				continue
			}

			msg, err = parseMessageStart(line)
			if err != nil {
				return nil, &ParseError{err, state, []byte(line)}
			}

			state = ParseStateHeaders
		case ParseStateHeaders:
			for {
				line, err := txtRdr.ReadContinuedLine()
				if err != nil {
					if errors.Is(err, io.EOF) {
						err = io.ErrUnexpectedEOF
					}
					return msg, &ParseError{err, state, nil}
				}
				if line == "" {
					break
				}

				name, value, ok := strings.Cut(line, ":")
				if !ok || util.TrimSP(name) == "" {
					return msg, &ParseError{newInvalidMessageError("malformed header line"), state, []byte(line)}
				}
				msg.headers = append(msg.headers, NewHeaderLines(name, value)...)
			}

			if err := validateHeaders(msg); err != nil {
				return msg, &ParseError{err, state, nil}
			}

			var size int
			if cl := msg.header("Content-Length"); cl != nil {
				n, err := strconv.Atoi(cl.Value)
				if err != nil || n < 0 {
					return msg, &ParseError{newInvalidMessageError("bad Content-Length"), state, []byte(cl.Value)}
				}
				size = n
			} else if packetMode {
				// the rest of the datagram is the body
				body, err := io.ReadAll(io.LimitReader(rdr, maxMsgSize+1))
				if err != nil {
					return msg, &ParseError{err, ParseStateBody, body}
				}
				if len(body) > maxMsgSize {
					return msg, &ParseError{ErrMessageTooLarge, ParseStateBody, nil}
				}
				if len(body) > 0 {
					msg.body = body
				}
				return msg, nil
			} else {
				return msg, &ParseError{newInvalidMessageError(`missing "Content-Length" header`), state, nil}
			}
			if size == 0 {
				return msg, nil
			}
			if size > maxMsgSize {
				return msg, &ParseError{ErrMessageTooLarge, state, nil}
			}
			msg.body = make([]byte, size)

			state = ParseStateBody
		case ParseStateBody:
			if n, err := io.ReadFull(rdr, msg.body); err != nil {
				if errors.Is(err, io.EOF) {
					// io.EOF possible only if no bytes where read
					// but if we here in parseStateBody then the body has non-zero size
					err = io.ErrUnexpectedEOF
				}
				return msg, &ParseError{err, state, msg.body[:n]}
			}
			return msg, nil
		}
	}
}

const maxMsgSize = 1 << 16

func parseMessageStart(line string) (*Msg, error) {
	if rest, ok := strings.CutPrefix(line, "SIP/2.0 "); ok {
		codeStr, reason, _ := strings.Cut(rest, " ")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 699 {
			return nil, errtrace.Wrap(newInvalidMessageError("bad status code %q", codeStr))
		}
		return &Msg{code: code, reason: reason, answer: true}, nil
	}

	parts := strings.Fields(line)
	if len(parts) != 3 || parts[2] != "SIP/2.0" {
		return nil, errtrace.Wrap(newInvalidMessageError("bad request line %q", line))
	}
	return &Msg{method: util.UCase(parts[0]), uri: parts[1]}, nil
}

// validateHeaders checks what is needed to route and match the message.
// Requests with other headers missing are answered with 400 by the transaction.
func validateHeaders(msg *Msg) error {
	if msg.header("Via") == nil {
		return errtrace.Wrap(fmt.Errorf("%w: Via", errMissHdrs))
	}
	if !msg.answer {
		return nil
	}
	cseq := msg.header("CSeq")
	if cseq == nil {
		return errtrace.Wrap(fmt.Errorf("%w: CSeq", errMissHdrs))
	}
	num, method, _ := strings.Cut(cseq.Value, " ")
	if _, err := strconv.Atoi(num); err != nil {
		return errtrace.Wrap(newInvalidMessageError("bad CSeq %q", cseq.Value))
	}
	msg.method = util.UCase(util.TrimSP(method))
	return nil
}
