package hostws

import "encoding/json"

// Methods a host may call.
const (
	MethodStart    = "start"
	MethodStop     = "stop"
	MethodIsActive = "isActive"
)

// Request is one inbound host call.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID. Exactly one of Result and
// Error is set.
type Response struct {
	ID     int64  `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Message is one outbound bridge event: the handler name and its JSON
// payload string, empty for events without data.
type Message struct {
	Handler string `json:"handler"`
	Payload string `json:"payload"`
}
