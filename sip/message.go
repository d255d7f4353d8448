package sip

//go:generate go tool mockgen -destination ../internal/testutil/sipmock/party.go -package sipmock . Party
//go:generate go tool mockgen -destination ../internal/testutil/sipmock/engine.go -package sipmock . EngineContext

import "context"

// MagicCookie is the branch prefix of RFC 3261 compliant Via headers.
const MagicCookie = "z9hG4bK"

// Message is the view of a SIP message the transaction layer works with.
//
// Transactions never downcast a Message: everything they need, including
// building answers and ACKs, goes through this interface.
type Message interface {
	// Method returns the request method (for responses, the method from CSeq).
	Method() string
	// Code returns the response status code or 0 for requests.
	Code() int
	// Reason returns the response reason phrase.
	Reason() string
	// URI returns the request URI.
	URI() string
	// IsAnswer reports whether the message is a response.
	IsAnswer() bool
	// IsACK reports whether the message is an ACK request.
	IsACK() bool
	// IsOutgoing reports whether the message was created locally.
	IsOutgoing() bool
	// CSeq returns the CSeq sequence number or -1 when it is missing.
	CSeq() int
	// HeaderValue returns the value of the first header line with the given name,
	// without parameters.
	HeaderValue(name string) (string, bool)
	// Headers returns the full text (value and parameters) of all header lines with the given name.
	Headers(name string) []string
	// Param returns a parameter of the first header line with the given name.
	Param(header, name string) (string, bool)
	// AddHeader appends a header line parsing its parameters.
	AddHeader(name, value string)
	// SetToTag sets the To tag unless it is already present.
	SetToTag(tag string)

	// Party returns the party the message is sent through or was received from.
	Party() Party
	// SetParty attaches the party used for later sends. Nil detaches it.
	SetParty(p Party)

	// BuildAnswer creates an outgoing response to the request.
	BuildAnswer(code int, reason string) Message
	// BuildACK creates the ACK for the INVITE request and its final answer.
	BuildACK(answer Message) Message
	// CloneForRetry copies the request for a new transaction:
	// fresh top Via branch, next CSeq number, no stored credentials.
	CloneForRetry() Message
	// Clone returns a deep copy of the message.
	Clone() Message
	// AuthCredentials returns the credentials stored for automatic authentication.
	AuthCredentials() (user, password string, ok bool)
}

// Party is the transport endpoint messages are sent through.
type Party interface {
	// Reliable reports whether the underlying transport is reliable (TCP, TLS).
	Reliable() bool
	// Proto returns the Via transport name (UDP, TCP, ...).
	Proto() string
	// LocalAddr returns the local host:port.
	LocalAddr() string
	// RemoteAddr returns the remote host:port.
	RemoteAddr() string
	// Transmit sends the message.
	// Parties that send asynchronously report failures through [Transaction.TransmitFailed].
	Transmit(ctx context.Context, msg Message) error
}

// Retargeter is implemented by parties that can answer to the address
// advertised in the top Via of a request.
type Retargeter interface {
	Retarget(sentBy string) Party
}
