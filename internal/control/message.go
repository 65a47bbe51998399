// Package control implements the reliable side channel between a pps-probe
// client and server: a length-prefix-free, zero-terminated JSON message
// stream carrying an externally-tagged sum type with four cases.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/qosmap/ppsprobe/internal/seq"
)

// Kind discriminates the four control-message cases.
type Kind int

const (
	KindRequestFlow Kind = iota
	KindExpectFlow
	KindTerminateFlow
	KindReport
)

func (k Kind) String() string {
	switch k {
	case KindRequestFlow:
		return "RequestFlow"
	case KindExpectFlow:
		return "ExpectFlow"
	case KindTerminateFlow:
		return "TerminateFlow"
	case KindReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// Message is a control-channel message. Only the fields relevant to Kind
// are meaningful: Port for ExpectFlow/TerminateFlow, Report for Report.
type Message struct {
	Kind   Kind
	Port   uint16
	Report seq.Report32
}

// RequestFlow builds a "RequestFlow" message: client asks the server to
// open a new receive flow.
func RequestFlow() Message {
	return Message{Kind: KindRequestFlow}
}

// ExpectFlow builds an "ExpectFlow" message: the server announces the UDP
// port it is listening on for a just-requested flow.
func ExpectFlow(port uint16) Message {
	return Message{Kind: KindExpectFlow, Port: port}
}

// TerminateFlow builds a "TerminateFlow" message: the client asks the
// server to stop the flow bound to the given port.
func TerminateFlow(port uint16) Message {
	return Message{Kind: KindTerminateFlow, Port: port}
}

// ReportMessage builds a "Report" message carrying a finished flow's
// sequence report.
func ReportMessage(r seq.Report32) Message {
	return Message{Kind: KindReport, Report: r}
}

// MarshalJSON externally tags the message: the unit variant RequestFlow
// encodes as the bare string "RequestFlow"; every other variant encodes as
// a single-key object whose key is the variant name.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindRequestFlow:
		return json.Marshal("RequestFlow")
	case KindExpectFlow:
		return json.Marshal(map[string]uint16{"ExpectFlow": m.Port})
	case KindTerminateFlow:
		return json.Marshal(map[string]uint16{"TerminateFlow": m.Port})
	case KindReport:
		return json.Marshal(map[string]seq.Report32{"Report": m.Report})
	default:
		return nil, fmt.Errorf("control: marshal: unknown message kind %d", m.Kind)
	}
}

// UnmarshalJSON accepts either the bare string "RequestFlow" or a
// single-key object naming one of the other three variants.
func (m *Message) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "RequestFlow" {
			return fmt.Errorf("control: unknown message %q", tag)
		}
		*m = Message{Kind: KindRequestFlow}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("control: malformed message: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("control: expected exactly one key, got %d", len(obj))
	}

	for key, raw := range obj {
		switch key {
		case "ExpectFlow":
			var port uint16
			if err := json.Unmarshal(raw, &port); err != nil {
				return fmt.Errorf("control: ExpectFlow: %w", err)
			}
			*m = Message{Kind: KindExpectFlow, Port: port}
		case "TerminateFlow":
			var port uint16
			if err := json.Unmarshal(raw, &port); err != nil {
				return fmt.Errorf("control: TerminateFlow: %w", err)
			}
			*m = Message{Kind: KindTerminateFlow, Port: port}
		case "Report":
			var rep seq.Report32
			if err := json.Unmarshal(raw, &rep); err != nil {
				return fmt.Errorf("control: Report: %w", err)
			}
			*m = Message{Kind: KindReport, Report: rep}
		default:
			return fmt.Errorf("control: unknown message key %q", key)
		}
	}
	return nil
}
