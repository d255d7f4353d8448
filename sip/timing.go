package sip

import "time"

// Default values for SIP timers as described in RFC 3261.
const (
	// T1 is the message RTT estimate.
	T1 = 500 * time.Millisecond
	// T2 is the maximum retransmit interval for non-INVITE requests and INVITE responses.
	T2 = 4 * time.Second
	// T4 is the maximum duration a message will remain in the network.
	T4 = 5 * time.Second
	// TimeC is the proxy INVITE transaction timeout.
	TimeC = 3 * time.Minute
	// TimeD is the wait duration for response retransmits via unreliable transport.
	TimeD = 32 * time.Second
)

// TimingConfig represents SIP timing config.
// It is used to configure SIP timers as described in RFC 3261.
// Zero value uses default base values [T1], [T2], [T4], [TimeC].
// All other timings are calculated based on these base values.
type TimingConfig struct {
	t1, t2, t4,
	timeC time.Duration
}

// NewTimings creates a new SIP timing config with specified base values.
// See [TimingConfig] for more details about how base timing values are used.
func NewTimings(t1, t2, t4, timeC time.Duration) TimingConfig {
	return TimingConfig{t1, t2, t4, timeC}
}

// T1 is the message RTT estimate.
// It is equal to [T1] if not specified.
func (c TimingConfig) T1() time.Duration {
	if c.t1 <= 0 {
		return T1
	}
	return c.t1
}

// T2 is the maximum retransmit interval for non-INVITE requests and INVITE responses.
// It is equal to [T2] if not specified.
func (c TimingConfig) T2() time.Duration {
	if c.t2 <= 0 {
		return T2
	}
	return c.t2
}

// T4 is the maximum duration a message will remain in the network.
// It is equal to [T4] if not specified.
func (c TimingConfig) T4() time.Duration {
	if c.t4 <= 0 {
		return T4
	}
	return c.t4
}

// TimeA returns initial INVITE request retransmit interval for unreliable transport.
func (c TimingConfig) TimeA() time.Duration { return c.T1() }

// TimeB returns INVITE client transaction timeout.
func (c TimingConfig) TimeB() time.Duration { return 64 * c.T1() }

// TimeC returns the INVITE transaction timeout on proxy.
// It is equal to [TimeC] if not specified.
func (c TimingConfig) TimeC() time.Duration {
	if c.timeC <= 0 {
		return TimeC
	}
	return c.timeC
}

// TimeD is the wait duration for response retransmits.
// It is zero on reliable transports.
func (c TimingConfig) TimeD(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return max(TimeD, 64*c.T1())
}

// TimeE returns initial non-INVITE request retransmit interval for unreliable transport.
func (c TimingConfig) TimeE() time.Duration { return c.T1() }

// TimeF returns non-INVITE client transaction timeout.
func (c TimingConfig) TimeF() time.Duration { return 64 * c.T1() }

// TimeG returns initial INVITE response retransmit interval.
func (c TimingConfig) TimeG() time.Duration { return c.T1() }

// TimeH returns timeout for ACK request receipt.
func (c TimingConfig) TimeH() time.Duration { return 64 * c.T1() }

// TimeI returns wait duration for ACK request retransmits.
// It is zero on reliable transports.
func (c TimingConfig) TimeI(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return c.T4()
}

// TimeJ returns wait duration for non-INVITE request retransmits.
// It is zero on reliable transports.
func (c TimingConfig) TimeJ(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return 64 * c.T1()
}

// TimeK returns wait duration for response retransmits.
// It is zero on reliable transports.
func (c TimingConfig) TimeK(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return c.T4()
}

// UserTimeout returns how long a client INVITE may stay in a provisional state
// waiting for a human to answer.
func (c TimingConfig) UserTimeout() time.Duration { return c.TimeC() - c.T2() }

// Timer returns the value of the RFC 3261 timer named by a letter (A..K)
// or a base timer digit ('1', '2', '4').
// Unknown names yield zero.
func (c TimingConfig) Timer(which rune, reliable bool) time.Duration {
	switch which {
	case '1':
		return c.T1()
	case '2':
		return c.T2()
	case '4':
		return c.T4()
	case 'A':
		return c.TimeA()
	case 'B':
		return c.TimeB()
	case 'C':
		return c.TimeC()
	case 'D':
		return c.TimeD(reliable)
	case 'E':
		return c.TimeE()
	case 'F':
		return c.TimeF()
	case 'G':
		return c.TimeG()
	case 'H':
		return c.TimeH()
	case 'I':
		return c.TimeI(reliable)
	case 'J':
		return c.TimeJ(reliable)
	case 'K':
		return c.TimeK(reliable)
	default:
		return 0
	}
}

func (c TimingConfig) IsZero() bool {
	return c.t1 == 0 && c.t2 == 0 && c.t4 == 0 && c.timeC == 0
}
