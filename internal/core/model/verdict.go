package model

// Reason names the filter that rejected a packet. The zero value means the
// packet passed every filter.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonPayloadSizeExceeded
	ReasonSuspiciousPort
	ReasonEntropyOutOfRange
	ReasonFlagAnomaly
)

// NumReasons counts every Reason value, ReasonNone included.
const NumReasons = int(ReasonFlagAnomaly) + 1

// Reasons lists every rejecting reason in filter-chain order.
var Reasons = []Reason{
	ReasonPayloadSizeExceeded,
	ReasonSuspiciousPort,
	ReasonEntropyOutOfRange,
	ReasonFlagAnomaly,
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "pass"
	case ReasonPayloadSizeExceeded:
		return "payload_size_exceeded"
	case ReasonSuspiciousPort:
		return "suspicious_port"
	case ReasonEntropyOutOfRange:
		return "entropy_out_of_range"
	case ReasonFlagAnomaly:
		return "flag_anomaly"
	default:
		return "unknown"
	}
}

// ParseReason is the inverse of Reason.String.
func ParseReason(s string) (Reason, bool) {
	for _, r := range append([]Reason{ReasonNone}, Reasons...) {
		if r.String() == s {
			return r, true
		}
	}
	return ReasonNone, false
}

// Verdict is the outcome of the filter chain for one packet.
type Verdict struct {
	Reason Reason
}

// Pass is the verdict for a packet no filter rejected.
var Pass = Verdict{}

// Reject builds a rejecting verdict.
func Reject(r Reason) Verdict {
	return Verdict{Reason: r}
}

// Rejected reports whether any filter rejected the packet.
func (v Verdict) Rejected() bool {
	return v.Reason != ReasonNone
}

func (v Verdict) String() string {
	if !v.Rejected() {
		return "pass"
	}
	return "rejected(" + v.Reason.String() + ")"
}
