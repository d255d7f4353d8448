package sip

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ghettovoice/sipengine/internal/util"
)

// Authorization is a Digest MD5 credentials set, RFC 2617.
type Authorization struct {
	realm     string
	nonce     string
	opaque    string
	qop       string
	nc        string
	cnonce    string
	algorithm string
	username  string
	password  string
	uri       string
	response  string
	method    string
}

// AuthFromValue parses a WWW-Authenticate, Proxy-Authenticate, Authorization or
// Proxy-Authorization header value.
// It returns nil for non Digest schemes.
func AuthFromValue(name, value string) *Authorization {
	h := NewHeaderLine(name, value)
	if !util.EqFold(h.Value, "Digest") {
		return nil
	}
	auth := &Authorization{algorithm: "MD5"}
	auth.realm, _ = h.Param("realm")
	auth.nonce, _ = h.Param("nonce")
	auth.opaque, _ = h.Param("opaque")
	auth.username, _ = h.Param("username")
	auth.uri, _ = h.Param("uri")
	auth.response, _ = h.Param("response")
	auth.nc, _ = h.Param("nc")
	auth.cnonce, _ = h.Param("cnonce")
	if alg, ok := h.Param("algorithm"); ok && alg != "" {
		auth.algorithm = alg
	}
	if qop, ok := h.Param("qop"); ok {
		// challenges may offer a list, only auth is supported
		for q := range strings.SplitSeq(qop, ",") {
			if util.TrimSP(q) == "auth" {
				auth.qop = "auth"
				break
			}
		}
	}
	return auth
}

func (auth *Authorization) Realm() string { return auth.realm }

func (auth *Authorization) Nonce() string { return auth.nonce }

func (auth *Authorization) Algorithm() string { return auth.algorithm }

func (auth *Authorization) Username() string { return auth.username }

func (auth *Authorization) URI() string { return auth.uri }

func (auth *Authorization) Response() string { return auth.response }

func (auth *Authorization) SetCredentials(username, password string) *Authorization {
	auth.username = username
	auth.password = password
	return auth
}

func (auth *Authorization) SetRequest(method, uri string) *Authorization {
	auth.method = method
	auth.uri = uri
	return auth
}

// SetNonceCount sets qop=auth nonce count and client nonce.
func (auth *Authorization) SetNonceCount(nc uint32, cnonce string) *Authorization {
	auth.nc = fmt.Sprintf("%08x", nc)
	auth.cnonce = cnonce
	return auth
}

func (auth *Authorization) CalcResponse() string {
	return calcResponse(auth.username, auth.realm, auth.password, auth.method, auth.uri, auth.nonce,
		auth.qop, auth.nc, auth.cnonce)
}

// Sign stores the calculated response.
func (auth *Authorization) Sign() *Authorization {
	auth.response = auth.CalcResponse()
	return auth
}

// String renders the credentials as an Authorization header value.
func (auth *Authorization) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	fmt.Fprintf(sb, "Digest username=%s, realm=%s, nonce=%s, uri=%s, response=%s, algorithm=%s",
		util.Quote(auth.username),
		util.Quote(auth.realm),
		util.Quote(auth.nonce),
		util.Quote(auth.uri),
		util.Quote(auth.response),
		auth.algorithm,
	)
	if auth.opaque != "" {
		fmt.Fprintf(sb, ", opaque=%s", util.Quote(auth.opaque))
	}
	if auth.qop != "" {
		fmt.Fprintf(sb, ", qop=%s, nc=%s, cnonce=%s", auth.qop, auth.nc, util.Quote(auth.cnonce))
	}
	return sb.String()
}

// calculates Authorization response https://www.ietf.org/rfc/rfc2617.txt
//
//	response = md5(md5(username:realm:password):nonce:md5(method:uri))
//	qop=auth: response = md5(md5(username:realm:password):nonce:nc:cnonce:qop:md5(method:uri))
func calcResponse(username, realm, password, method, uri, nonce, qop, nc, cnonce string) string {
	a1 := md5Hex(username + ":" + realm + ":" + password)
	a2 := md5Hex(method + ":" + uri)
	if qop != "" {
		return md5Hex(a1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + a2)
	}
	return md5Hex(a1 + ":" + nonce + ":" + a2)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// nonceSource generates stateless nonces: md5(secret.time).time
// A nonce is regenerated once per second.
type nonceSource struct {
	mu     sync.Mutex
	secret string
	nonce  string
	tstamp int64
	nc     uint32
}

func newNonceSource() *nonceSource {
	return &nonceSource{secret: fmt.Sprintf("%08x", util.RandUint32())}
}

func (s *nonceSource) get(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := now.Unix(); t != s.tstamp || s.nonce == "" {
		s.tstamp = t
		s.nonce = md5Hex(s.secret+"."+strconv.FormatInt(t, 10)) + "." + strconv.FormatInt(t, 10)
	}
	return s.nonce
}

// age returns the nonce age or -1 when the nonce was not generated by this source.
func (s *nonceSource) age(nonce string, now time.Time) time.Duration {
	if nonce == "" {
		return -1
	}
	s.mu.Lock()
	if nonce == s.nonce {
		defer s.mu.Unlock()
		return now.Sub(time.Unix(s.tstamp, 0))
	}
	s.mu.Unlock()

	hash, ts, ok := strings.Cut(nonce, ".")
	if !ok || ts == "" {
		return -1
	}
	t, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return -1
	}
	if hash != md5Hex(s.secret+"."+ts) {
		return -1
	}
	return now.Sub(time.Unix(t, 0))
}

// nextNC returns the next non zero nonce count.
func (s *nonceSource) nextNC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nc++
	if s.nc == 0 {
		s.nc++
	}
	return s.nc
}

// buildAuth answers the first Digest challenge of the answer using the request credentials.
func buildAuth(challenge, request Message, ns *nonceSource) (name, value string, ok bool) {
	user, pass, ok := request.AuthCredentials()
	if !ok {
		return "", "", false
	}
	hdr, authHdr := "WWW-Authenticate", "Authorization"
	if challenge.Code() == StatusProxyAuthenticationRequired {
		hdr, authHdr = "Proxy-Authenticate", "Proxy-Authorization"
	}
	for _, v := range challenge.Headers(hdr) {
		auth := AuthFromValue(hdr, v)
		if auth == nil || !util.EqFold(auth.algorithm, "MD5") {
			continue
		}
		auth.SetCredentials(user, pass).SetRequest(request.Method(), request.URI())
		if auth.qop != "" {
			auth.SetNonceCount(ns.nextNC(), util.RandStringLC(16))
		}
		return authHdr, auth.Sign().String(), true
	}
	return "", "", false
}
