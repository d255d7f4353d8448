package sip

import (
	"log/slog"
	"sync/atomic"
)

// Dialog identifies a SIP dialog by the Call-ID, the local and remote tags
// and URIs, RFC 3261 12.
//
// The local and remote sides are taken from the message direction: for
// outgoing requests and incoming answers From is the local side, otherwise To.
type Dialog struct {
	CallID    string
	LocalURI  string
	LocalTag  string
	RemoteURI string
	RemoteTag string
	// RemoteCSeq is the highest CSeq of the requests received in the dialog, -1 if none.
	RemoteCSeq int

	cseq atomic.Int32
}

// NewDialog returns the dialog the message belongs to.
func NewDialog(msg Message) *Dialog {
	d := &Dialog{RemoteCSeq: -1}
	d.Update(msg)
	return d
}

// Update refreshes the dialog identity from a message of the dialog and
// tracks the CSeq of received requests.
func (d *Dialog) Update(msg Message) {
	if msg == nil {
		return
	}
	if cid, ok := msg.HeaderValue("Call-ID"); ok {
		d.CallID = cid
	}
	local, remote := "To", "From"
	if msg.IsOutgoing() != msg.IsAnswer() {
		local, remote = "From", "To"
	}
	d.LocalURI, d.LocalTag = dialogSide(msg, local)
	d.RemoteURI, d.RemoteTag = dialogSide(msg, remote)
	if !msg.IsOutgoing() && !msg.IsAnswer() && !msg.IsACK() && msg.CSeq() > d.RemoteCSeq {
		d.RemoteCSeq = msg.CSeq()
	}
}

func dialogSide(msg Message, header string) (uri, tag string) {
	v, ok := msg.HeaderValue(header)
	if !ok {
		return "", ""
	}
	tag, _ = msg.Param(header, "tag")
	return addrSpec(v), tag
}

// Matches reports whether both dialogs have the same Call-ID and tags,
// and unless ignoreURIs is set, the same URIs.
func (d *Dialog) Matches(other *Dialog, ignoreURIs bool) bool {
	if d == nil || other == nil {
		return false
	}
	return d.CallID == other.CallID &&
		d.LocalTag == other.LocalTag &&
		d.RemoteTag == other.RemoteTag &&
		(ignoreURIs || (d.LocalURI == other.LocalURI && d.RemoteURI == other.RemoteURI))
}

// SetCSeq sets the last local CSeq number of the dialog.
func (d *Dialog) SetCSeq(cseq int) { d.cseq.Store(int32(cseq)) }

// NextCSeq returns the CSeq number for the next request sent in the dialog.
func (d *Dialog) NextCSeq() int { return int(d.cseq.Add(1)) }

func (d *Dialog) LogValue() slog.Value {
	if d == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("call_id", d.CallID),
		slog.String("local", d.LocalURI+";tag="+d.LocalTag),
		slog.String("remote", d.RemoteURI+";tag="+d.RemoteTag),
	)
}
