package sip

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ghettovoice/sipengine/internal/util"
)

// Msg is the concrete [Message] implementation.
// It keeps headers as ordered lines with parsed parameters.
//
// Msg is safe for concurrent use.
type Msg struct {
	mu       sync.RWMutex
	method   string
	uri      string
	code     int
	reason   string
	answer   bool
	outgoing bool
	headers  []*HeaderLine
	body     []byte
	party    Party

	authUser, authPass string
	authSet            bool
}

// NewRequest creates an outgoing request.
// Missing mandatory headers are filled by [Msg.Complete] when the request is
// handed to the engine.
func NewRequest(method, uri string) *Msg {
	return &Msg{method: util.UCase(method), uri: uri, outgoing: true}
}

// NewResponse creates a response. It is mostly useful in tests and for
// parties that build messages by themselves.
func NewResponse(method string, code int, reason string, outgoing bool) *Msg {
	if reason == "" {
		reason = StatusText(code)
	}
	return &Msg{method: util.UCase(method), code: code, reason: reason, answer: true, outgoing: outgoing}
}

func (m *Msg) Method() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.method
}

func (m *Msg) Code() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func (m *Msg) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

func (m *Msg) URI() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uri
}

func (m *Msg) IsAnswer() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.answer
}

func (m *Msg) IsACK() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.answer && m.method == MethodAck
}

func (m *Msg) IsOutgoing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outgoing
}

func (m *Msg) CSeq() int {
	v, ok := m.HeaderValue("CSeq")
	if !ok {
		return -1
	}
	num, _, _ := strings.Cut(v, " ")
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func (m *Msg) header(name string) *HeaderLine {
	name = CanonicHeaderName(name)
	for _, h := range m.headers {
		if h.Name == name {
			return h
		}
	}
	return nil
}

func (m *Msg) HeaderValue(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h := m.header(name); h != nil {
		return h.Value, true
	}
	return "", false
}

func (m *Msg) Headers(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = CanonicHeaderName(name)
	var vals []string
	for _, h := range m.headers {
		if h.Name == name {
			vals = append(vals, h.Text())
		}
	}
	return vals
}

func (m *Msg) Param(header, name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h := m.header(header); h != nil {
		return h.Param(name)
	}
	return "", false
}

func (m *Msg) AddHeader(name, value string) {
	hs := NewHeaderLines(name, value)
	m.mu.Lock()
	m.headers = append(m.headers, hs...)
	m.mu.Unlock()
}

// SetHeader replaces all header lines of the name with a single line.
func (m *Msg) SetHeader(name, value string) {
	h := NewHeaderLine(name, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delHeader(h.Name)
	m.headers = append(m.headers, h)
}

// DelHeader removes all header lines with the given name.
func (m *Msg) DelHeader(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delHeader(CanonicHeaderName(name))
}

func (m *Msg) delHeader(name string) {
	m.headers = slices.DeleteFunc(m.headers, func(h *HeaderLine) bool { return h.Name == name })
}

func (m *Msg) SetToTag(tag string) {
	if tag == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.header("To")
	if h == nil {
		return
	}
	if _, ok := h.Param("tag"); !ok {
		h.SetParam("tag", tag)
	}
}

// Body returns the message body.
func (m *Msg) Body() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.body
}

// SetBody sets the message body and its content type.
func (m *Msg) SetBody(contentType string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = body
	m.delHeader("Content-Type")
	if contentType != "" && len(body) > 0 {
		m.headers = append(m.headers, NewHeaderLine("Content-Type", contentType))
	}
}

func (m *Msg) Party() Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.party
}

func (m *Msg) SetParty(p Party) {
	m.mu.Lock()
	m.party = p
	m.mu.Unlock()
}

// SetCredentials stores credentials used to answer authentication challenges.
func (m *Msg) SetCredentials(user, password string) {
	m.mu.Lock()
	m.authUser, m.authPass, m.authSet = user, password, true
	m.mu.Unlock()
}

func (m *Msg) AuthCredentials() (user, password string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authUser, m.authPass, m.authSet
}

func (m *Msg) BuildAnswer(code int, reason string) Message {
	if reason == "" {
		reason = StatusText(code)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	a := &Msg{method: m.method, code: code, reason: reason, answer: true, outgoing: true, party: m.party}
	for _, h := range m.headers {
		switch h.Name {
		case "Via", "From", "To", "Call-ID", "CSeq":
			a.headers = append(a.headers, h.clone())
		case "Record-Route":
			if code > 100 && code < 300 {
				a.headers = append(a.headers, h.clone())
			}
		case "Timestamp":
			if code == StatusTrying {
				a.headers = append(a.headers, h.clone())
			}
		}
	}
	return a
}

func (m *Msg) BuildACK(answer Message) Message {
	success := answer != nil && answer.Code()/100 == 2

	m.mu.RLock()
	ack := &Msg{method: MethodAck, uri: m.uri, outgoing: true, party: m.party}
	var viaDone, hasRoute bool
	for _, h := range m.headers {
		switch h.Name {
		case "Via":
			if viaDone {
				continue
			}
			viaDone = true
			h = h.clone()
			if success {
				h.SetParam("branch", newBranch())
			}
			ack.headers = append(ack.headers, h)
		case "CSeq":
			num, _, _ := strings.Cut(h.Value, " ")
			ack.headers = append(ack.headers, NewHeaderLine("CSeq", num+" "+MethodAck))
		case "Route":
			hasRoute = true
			ack.headers = append(ack.headers, h.clone())
		case "From", "To", "Call-ID", "Max-Forwards", "Authorization", "Proxy-Authorization", "User-Agent":
			ack.headers = append(ack.headers, h.clone())
		}
	}
	m.mu.RUnlock()

	if answer == nil {
		return ack
	}
	if tag, ok := answer.Param("To", "tag"); ok {
		ack.SetToTag(tag)
	}
	if success {
		if c, ok := answer.HeaderValue("Contact"); ok {
			if uri := addrSpec(c); uri != "" {
				ack.uri = uri
			}
		}
		if !hasRoute {
			var routes []string
			for _, rr := range answer.Headers("Record-Route") {
				routes = append(routes, splitOutside(rr, ',')...)
			}
			for i := len(routes) - 1; i >= 0; i-- {
				ack.headers = append(ack.headers, NewHeaderLine("Route", routes[i]))
			}
		}
	}
	return ack
}

func (m *Msg) CloneForRetry() Message {
	c := m.clone()
	c.authUser, c.authPass, c.authSet = "", "", false
	c.delHeader("Authorization")
	c.delHeader("Proxy-Authorization")
	if via := c.header("Via"); via != nil {
		via.SetParam("branch", newBranch())
	}
	if cseq := c.header("CSeq"); cseq != nil {
		cseq.Value = fmt.Sprintf("%d %s", m.CSeq()+1, c.method)
	}
	return c
}

func (m *Msg) Clone() Message { return m.clone() }

func (m *Msg) clone() *Msg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &Msg{
		method:   m.method,
		uri:      m.uri,
		code:     m.code,
		reason:   m.reason,
		answer:   m.answer,
		outgoing: m.outgoing,
		body:     slices.Clone(m.body),
		party:    m.party,
		authUser: m.authUser,
		authPass: m.authPass,
		authSet:  m.authSet,
	}
	c.headers = make([]*HeaderLine, len(m.headers))
	for i, h := range m.headers {
		c.headers[i] = h.clone()
	}
	return c
}

// Completer supplies the values used to fill missing headers of outgoing messages.
type Completer interface {
	UserAgent() string
	MaxForwards() int
	NextCSeq() int
}

// Complete fills missing mandatory headers of an outgoing message:
// Via with a branch, From with a tag, To, Call-ID, CSeq, Max-Forwards,
// Contact for dialog creating requests and User-Agent (Server for answers).
func (m *Msg) Complete(c Completer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.outgoing {
		return
	}
	ua := c.UserAgent()
	if m.answer {
		if ua != "" && m.header("Server") == nil {
			m.headers = append(m.headers, NewHeaderLine("Server", ua))
		}
		return
	}

	proto, local := "UDP", "localhost"
	if m.party != nil {
		proto = util.UCase(m.party.Proto())
		if a := m.party.LocalAddr(); a != "" {
			local = a
		}
	}
	host := local
	if h, _, ok := strings.Cut(local, ":"); ok && !strings.HasPrefix(local, "[") {
		host = h
	}

	if via := m.header("Via"); via == nil {
		m.headers = append(m.headers, NewHeaderLine("Via", "SIP/2.0/"+proto+" "+local+";rport;branch="+newBranch()))
	} else if _, ok := via.Param("branch"); !ok {
		via.SetParam("branch", newBranch())
	}
	if from := m.header("From"); from == nil {
		m.headers = append(m.headers, NewHeaderLine("From", "<sip:"+local+">;tag="+newTag()))
	} else if _, ok := from.Param("tag"); !ok {
		from.SetParam("tag", newTag())
	}
	if m.header("To") == nil {
		m.headers = append(m.headers, NewHeaderLine("To", "<"+m.uri+">"))
	}
	if m.header("Call-ID") == nil {
		m.headers = append(m.headers, NewHeaderLine("Call-ID", uuid.NewString()+"@"+host))
	}
	if m.header("CSeq") == nil {
		m.headers = append(m.headers, NewHeaderLine("CSeq", fmt.Sprintf("%d %s", c.NextCSeq(), m.method)))
	}
	if m.header("Max-Forwards") == nil {
		m.headers = append(m.headers, NewHeaderLine("Max-Forwards", strconv.Itoa(c.MaxForwards())))
	}
	switch m.method {
	case MethodInvite, MethodRegister, MethodSubscribe, MethodRefer:
		if m.header("Contact") == nil {
			m.headers = append(m.headers, NewHeaderLine("Contact", "<sip:"+local+">"))
		}
	}
	if ua != "" && m.header("User-Agent") == nil {
		m.headers = append(m.headers, NewHeaderLine("User-Agent", ua))
	}
}

// String renders the message in wire format with a computed Content-Length.
func (m *Msg) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	if m.answer {
		fmt.Fprintf(sb, "SIP/2.0 %d %s\r\n", m.code, m.reason)
	} else {
		fmt.Fprintf(sb, "%s %s SIP/2.0\r\n", m.method, m.uri)
	}
	for _, h := range m.headers {
		if h.Name == "Content-Length" {
			continue
		}
		sb.WriteString(h.String())
		sb.WriteString("\r\n")
	}
	fmt.Fprintf(sb, "Content-Length: %d\r\n\r\n", len(m.body))
	sb.Write(m.body)
	return sb.String()
}

func (m *Msg) LogValue() slog.Value {
	if m == nil {
		return slog.Value{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.answer {
		return slog.GroupValue(
			slog.Int("code", m.code),
			slog.String("reason", m.reason),
			slog.String("method", m.method),
		)
	}
	return slog.GroupValue(
		slog.String("method", m.method),
		slog.String("uri", m.uri),
	)
}

func newBranch() string { return MagicCookie + util.RandStringLC(16) }

func newTag() string { return util.RandStringLC(10) }

// addrSpec extracts the URI from a name-addr or addr-spec value.
func addrSpec(v string) string {
	if i := strings.IndexByte(v, '<'); i >= 0 {
		if j := strings.IndexByte(v[i:], '>'); j > 0 {
			return v[i+1 : i+j]
		}
	}
	return util.TrimSP(v)
}
