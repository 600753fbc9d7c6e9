package srtp

import "context"

// InspectResult is the outcome of a keying method's chance to claim an
// inbound packet before it reaches SRTP unprotect (spec.md §4.4 step 3).
type InspectResult int

const (
	// Ignored means the packet was not relevant to this keying method; the
	// caller should offer it to the next method, then fall through to
	// SRTP unprotect.
	Ignored InspectResult = iota
	// Consumed means the keying method handled the packet fully (e.g. a
	// DTLS record); processing stops here.
	Consumed
)

// NegotiatedPolicies is what a keying method hands back to the Session once
// both directions are agreed: its own TX policy and the peer's RX policy.
type NegotiatedPolicies struct {
	TX Policy
	RX Policy
}

// StartFunc is called by a keying method to push negotiated policies into the
// owning Transport asynchronously, e.g. once a DTLS handshake completes. It
// mirrors the Session's internal start_srtp trampoline (spec.md §4.5/§4.8).
type StartFunc func(pols NegotiatedPolicies, err error)

// Method is the contract a keying method must satisfy (spec.md §4.5). This
// collapses the teacher's vtable-as-transport reuse into a first-class small
// interface per the REDESIGN FLAGS note in spec.md §9: offer/answer/start/stop
// plus an explicit inbound-inspection hook, rather than overloading a packet
// send method to also mean "inspect incoming".
type Method interface {
	// Name identifies the keying method kind, e.g. "SDES" or "DTLS-SRTP".
	Name() string

	// Offer is called when this endpoint is the offerer: it may mutate/emit
	// attributes into an offer carrier (an opaque *MediaAttrs the Transport
	// plumbs in from the application's SDP) and must not block.
	Offer(ctx context.Context, attrs *MediaAttrs) error

	// Answer is called with the remote's SDP attributes (nil if this
	// endpoint is itself the offerer and no answer has arrived yet) and
	// produces this endpoint's answering attributes. On success it may fill
	// result with the negotiated policies; if it cannot complete
	// synchronously it returns ok=false and later calls the StartFunc given
	// to Start.
	Answer(ctx context.Context, remote *MediaAttrs, local *MediaAttrs) (result NegotiatedPolicies, ok bool, err error)

	// Start begins the keying method's active phase (e.g. launching a DTLS
	// handshake). done is invoked exactly once, possibly synchronously,
	// possibly later from another goroutine, when the method either
	// completes or fails.
	Start(ctx context.Context, done StartFunc) error

	// Stop aborts any in-progress negotiation/handshake and releases
	// resources. Must be safe to call multiple times.
	Stop() error

	// InspectInbound gives the method a chance to claim an inbound packet
	// (e.g. a DTLS record multiplexed onto the RTP/RTCP channel per RFC
	// 7983) before SRTP unprotect sees it.
	InspectInbound(buf []byte) InspectResult

	// Close releases the method permanently; it will not be reused.
	Close() error
}

// MediaAttrs is the opaque SDP-attribute carrier a keying method reads from
// and writes to. The core never parses or serializes SDP itself (spec.md §1
// Non-goals); the application hands in already-parsed attribute lines and
// reads back whatever the method appended.
type MediaAttrs struct {
	// Lines holds raw `a=...` attribute lines relevant to keying, e.g.
	// `crypto:1 AES_CM_128_HMAC_SHA1_80 inline:<base64>` (without the
	// leading "a=") or `fingerprint:sha-256 ...` / `setup:actpass`.
	Lines []string
	// MediaProto is the SDP media-level transport protocol string, e.g.
	// "RTP/AVP", "RTP/SAVP", or "UDP/TLS/RTP/SAVPF".
	MediaProto string
}
