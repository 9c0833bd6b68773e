package domain

import "time"

/**
 * CONTEXT:   EventKind is the tagged variant of every event the intake
 *            component can receive from kernel probes, the session monitor,
 *            or the web proxy
 * INPUT:     Probe/monitor wire payloads normalized by internal/intake
 * OUTPUT:    A fixed, recompile-time-closed set of event kinds consumed by
 *            the policy engine
 * BUSINESS:  Adding a probe kind is a recompile, not a plugin - this matches
 *            the fixed kernel probe set described in spec.md
 * CHANGE:    Initial implementation, generalized from pkg/events' Claude-CLI
 *            specific EventType to the full probe/monitor contract of
 *            spec.md 4.A/6
 * RISK:      Medium - event shape changes require coordinating with the
 *            external probe/proxy contracts
 */

// EventKind is the fixed tagged-variant discriminator for Event.
type EventKind string

const (
	EventProcessExec   EventKind = "ProcessExec"
	EventProcessExit   EventKind = "ProcessExit"
	EventNetConnect    EventKind = "NetConnect"
	EventNetDisconnect EventKind = "NetDisconnect"
	EventFileOpen      EventKind = "FileOpen"
	EventDomainRequest EventKind = "DomainRequest"
	EventTerminalCmd   EventKind = "TerminalCommand"
	EventFocusChanged  EventKind = "FocusChanged"
	EventIdleChanged   EventKind = "IdleChanged"
	EventMemoryAlloc   EventKind = "MemoryAlloc"
	EventDiskIO        EventKind = "DiskIO"
)

// IsSecurityRelevant reports whether the kind must never be dropped under
// backpressure (spec.md 4.A/5/9): process exec, domain requests and
// terminal commands always reach the decision goroutine.
func (k EventKind) IsSecurityRelevant() bool {
	switch k {
	case EventProcessExec, EventDomainRequest, EventTerminalCmd:
		return true
	default:
		return false
	}
}

// EventSource distinguishes a live kernel-probe event from one produced by
// the /proc-enumeration (or equivalent) fallback poller.
type EventSource string

const (
	SourceProbe    EventSource = "probe"
	SourceFallback EventSource = "fallback"
	SourceMonitor  EventSource = "monitor"
	SourceProxy    EventSource = "proxy"
)

// Event is the normalized, sequenced record the intake component hands to
// the decision goroutine. IngestSeq is assigned by internal/intake and is
// monotonic per process lifetime.
type Event struct {
	IngestSeq      uint64
	Kind           EventKind
	Source         EventSource
	KernelTime     time.Time
	PID            int
	UID            int
	ProfileID      string // resolved by uid->profile binding; "" if unbound
	AppID          string
	AppDisplay     string
	WindowTitle    string
	Domain         string
	Category       string // proxy-supplied content category for DomainRequest events, e.g. "gambling"
	Command        string
	IdleMillis     int64
	BytesAlloc     int64
	DiskPath       string
	DiskOp         DiskIOOp
	DedupKey       string // (kind, pid, key) coalescing key
}
