package sip

import (
	"net/textproto"
	"strings"

	"github.com/ghettovoice/sipengine/internal/util"
)

var headerNames = map[string]string{
	"c":                   "Content-Type",
	"e":                   "Content-Encoding",
	"f":                   "From",
	"i":                   "Call-ID",
	"k":                   "Supported",
	"l":                   "Content-Length",
	"m":                   "Contact",
	"o":                   "Event",
	"r":                   "Refer-To",
	"s":                   "Subject",
	"t":                   "To",
	"u":                   "Allow-Events",
	"v":                   "Via",
	"Call-Id":             "Call-ID",
	"Cseq":                "CSeq",
	"Mime-Version":        "MIME-Version",
	"Www-Authenticate":    "WWW-Authenticate",
	"Authentication-Info": "Authentication-Info",
}

// CanonicHeaderName converts name to the canonical form.
// Compact names are expanded, e.g. "v" becomes "Via".
func CanonicHeaderName(name string) string {
	name = util.TrimSP(name)
	if n, ok := headerNames[name]; ok {
		return n
	}
	name = textproto.CanonicalMIMEHeaderKey(name)
	if n, ok := headerNames[name]; ok {
		return n
	}
	return name
}

// headers whose value is a scheme followed by comma separated parameters
var authHeaders = map[string]bool{
	"WWW-Authenticate":    true,
	"Proxy-Authenticate":  true,
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Authentication-Info": true,
}

// headers never split into value and parameters
var opaqueHeaders = map[string]bool{
	"Call-ID":        true,
	"CSeq":           true,
	"Content-Length": true,
	"Date":           true,
	"Max-Forwards":   true,
	"Organization":   true,
	"Server":         true,
	"Subject":        true,
	"User-Agent":     true,
	"Warning":        true,
}

// headers that may carry several comma separated values on one line
var listHeaders = map[string]bool{
	"Via":          true,
	"Route":        true,
	"Record-Route": true,
	"Contact":      true,
	"Path":         true,
}

// HeaderParam is a single header parameter. Flag parameters have no value.
type HeaderParam struct {
	Name  string
	Value string
	Flag  bool
}

// HeaderLine is one header line split into the main value and its parameters.
type HeaderLine struct {
	Name   string
	Value  string
	Params []HeaderParam
}

// NewHeaderLine parses a header value into a header line.
// Parameters are separated by ';', for authentication headers by ','.
func NewHeaderLine(name, value string) *HeaderLine {
	name = CanonicHeaderName(name)
	value = util.TrimSP(value)
	h := &HeaderLine{Name: name}
	switch {
	case opaqueHeaders[name]:
		h.Value = value
	case authHeaders[name]:
		scheme, rest, _ := strings.Cut(value, " ")
		h.Value = scheme
		for _, p := range splitOutside(rest, ',') {
			h.addRawParam(p)
		}
	default:
		parts := splitOutside(value, ';')
		h.Value = util.TrimSP(parts[0])
		for _, p := range parts[1:] {
			h.addRawParam(p)
		}
	}
	return h
}

// NewHeaderLines parses a header value into header lines, one per value
// of a comma separated list header such as Via or Record-Route.
func NewHeaderLines(name, value string) []*HeaderLine {
	name = CanonicHeaderName(name)
	if !listHeaders[name] {
		return []*HeaderLine{NewHeaderLine(name, value)}
	}
	var hs []*HeaderLine
	for _, v := range splitOutside(value, ',') {
		if v = util.TrimSP(v); v != "" {
			hs = append(hs, NewHeaderLine(name, v))
		}
	}
	if len(hs) == 0 {
		hs = append(hs, NewHeaderLine(name, value))
	}
	return hs
}

func (h *HeaderLine) addRawParam(p string) {
	p = util.TrimSP(p)
	if p == "" {
		return
	}
	n, v, ok := strings.Cut(p, "=")
	h.Params = append(h.Params, HeaderParam{Name: util.TrimSP(n), Value: util.TrimSP(v), Flag: !ok})
}

// Param returns the parameter value. Quoted values are returned unquoted.
func (h *HeaderLine) Param(name string) (string, bool) {
	for _, p := range h.Params {
		if util.EqFold(p.Name, name) {
			return util.Unquote(p.Value), true
		}
	}
	return "", false
}

// SetParam replaces or appends a parameter.
func (h *HeaderLine) SetParam(name, value string) {
	for i := range h.Params {
		if util.EqFold(h.Params[i].Name, name) {
			h.Params[i].Value = value
			h.Params[i].Flag = false
			return
		}
	}
	h.Params = append(h.Params, HeaderParam{Name: name, Value: value})
}

// DelParam removes all parameters with the given name.
func (h *HeaderLine) DelParam(name string) {
	ps := h.Params[:0]
	for _, p := range h.Params {
		if !util.EqFold(p.Name, name) {
			ps = append(ps, p)
		}
	}
	h.Params = ps
}

// Text renders the header value with parameters.
func (h *HeaderLine) Text() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(h.Value)
	sep, first := ";", ";"
	if authHeaders[h.Name] {
		sep, first = ",", " "
	}
	for i, p := range h.Params {
		if i == 0 {
			sb.WriteString(first)
		} else {
			sb.WriteString(sep)
		}
		sb.WriteString(p.Name)
		if !p.Flag {
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
	}
	return sb.String()
}

func (h *HeaderLine) String() string { return h.Name + ": " + h.Text() }

func (h *HeaderLine) clone() *HeaderLine {
	h2 := *h
	h2.Params = append([]HeaderParam(nil), h.Params...)
	return &h2
}

// splitOutside splits s by sep ignoring separators inside quotes and angle brackets.
func splitOutside(s string, sep byte) []string {
	var (
		parts   []string
		inQuote bool
		inAngle bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case c == '<' && !inQuote:
			inAngle = true
		case c == '>' && !inQuote:
			inAngle = false
		case c == sep && !inQuote && !inAngle:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
