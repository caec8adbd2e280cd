// Package protocol implements the wire codec shared by fleetd and its
// agents: a newline-delimited JSON envelope plus the small set of
// legacy plain-text frames the server emits for command dispatch,
// broadcast, and acknowledgement.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types carried under the data_type discriminator, exchanged
// once a connection is authenticated.
const (
	TypeClientInfo      = "client_info"
	TypeCommandResponse = "command_response"
)

// Auth frame tags carried under the auth_type discriminator. These
// values (not "auth_challenge"/"auth_response"/"auth_result") are the
// wire contract existing agents depend on.
const (
	TypeAuthChallenge = "challenge"
	TypeAuthResponse  = "response"
	TypeAuthResult    = "result"
)

// Envelope names the data_type tag of a client_info/command_response
// frame, mirroring nixfleet's protocol.Message envelope. Encode and
// Decode work on the tagged JSON object directly and do not use this
// type; auth frames carry auth_type instead.
type Envelope struct {
	Type    string          `json:"data_type"`
	Payload json.RawMessage `json:"-"`
}

// HostInfo describes the machine an agent runs on.
type HostInfo struct {
	Hostname    string   `json:"hostname"`
	CPUModel    string   `json:"cpu_model"`
	CPUUsage    float64  `json:"cpu_usage"`
	TotalMemory uint64   `json:"total_memory"`
	FreeMemory  uint64   `json:"free_memory"`
	UsedMemory  uint64   `json:"used_memory"`
	IPAddresses []string `json:"ip_addresses"`
}

// VersionInfo describes one installed software component an agent
// reports on.
type VersionInfo struct {
	App         string `json:"app"`
	CreatedTime string `json:"created_time"`
}

// AppInfo describes one managed application an agent tracks.
type AppInfo struct {
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	DeployTime    string        `json:"deploy_time"`
	Branch        *string       `json:"branch,omitempty"`
	Commit        *string       `json:"commit,omitempty"`
	ServiceStatus ServiceStatus `json:"service_status"`
}

// ServiceStatus is the tagged variant Running(pid) | Stopped | Unknown
// an agent reports for one managed application, round-tripped the same
// way the original Rust implementation's externally-tagged enum
// serializes: a bare string for unit variants, a single-key object for
// the newtype variant.
type ServiceStatus struct {
	State string // "Running", "Stopped", or "Unknown"
	PID   string // set only when State == "Running"
}

// StatusStopped and StatusUnknown are the two unit ServiceStatus
// values; use NewRunningStatus for the Running(pid) variant.
var (
	StatusStopped = ServiceStatus{State: "Stopped"}
	StatusUnknown = ServiceStatus{State: "Unknown"}
)

// NewRunningStatus builds the Running(pid) ServiceStatus variant.
func NewRunningStatus(pid string) ServiceStatus {
	return ServiceStatus{State: "Running", PID: pid}
}

// MarshalJSON implements the tagged-variant encoding.
func (s ServiceStatus) MarshalJSON() ([]byte, error) {
	if s.State == "Running" {
		return json.Marshal(map[string]string{"Running": s.PID})
	}
	if s.State == "" {
		return json.Marshal("Unknown")
	}
	return json.Marshal(s.State)
}

// UnmarshalJSON implements the tagged-variant decoding.
func (s *ServiceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.State = str
		s.PID = ""
		return nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("protocol: invalid service_status: %w", err)
	}
	pid, ok := obj["Running"]
	if !ok {
		return fmt.Errorf("protocol: unknown service_status encoding: %s", data)
	}
	s.State = "Running"
	s.PID = pid
	return nil
}

// ClientInfoPayload is sent by an agent to register or refresh its
// reported state with the server.
type ClientInfoPayload struct {
	ClientID    string        `json:"client_id"`
	SystemInfo  HostInfo      `json:"system_info"`
	VersionInfo []VersionInfo `json:"version_info"`
	AppInfo     []AppInfo     `json:"app_info"`
	LastSeen    int64         `json:"last_seen"`
}

// CommandResponsePayload is sent by an agent once a dispatched command
// has finished executing.
type CommandResponsePayload struct {
	CommandID   string `json:"command_id"`
	ClientID    string `json:"client_id"`
	Command     string `json:"command"`
	Output      string `json:"output"`
	ErrorOutput string `json:"error_output"`
	ExitCode    int    `json:"exit_code"`
	ExecutedAt  int64  `json:"executed_at"`
}

// AuthChallengePayload is sent by the server to open a TCP-auth
// handshake.
type AuthChallengePayload struct {
	Nonce     string `json:"nonce"`
	Timestamp uint64 `json:"timestamp"`
}

// AuthResponsePayload is sent by an agent in reply to an
// AuthChallengePayload.
type AuthResponsePayload struct {
	ClientID     string `json:"client_id"`
	Nonce        string `json:"nonce"`
	ResponseHash string `json:"response_hash"`
	Timestamp    uint64 `json:"timestamp"`
}

// AuthResultPayload is sent by the server once it has verified (or
// rejected) an AuthResponsePayload.
type AuthResultPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// dataTypeTag and authTypeTag are the two discriminator field names the
// wire uses depending on frame family: client_info/command_response
// frames carry data_type, the C2 handshake frames carry auth_type. Both
// must be preserved verbatim for compatibility with existing agents.
const (
	dataTypeTag = "data_type"
	authTypeTag = "auth_type"
)

// Encode marshals typ and payload into a single newline-terminated JSON
// line tagged with data_type, ready to be written to a connection.
func Encode(typ string, payload any) ([]byte, error) {
	return encodeTagged(dataTypeTag, typ, payload)
}

// EncodeAuth marshals typ and payload into a single newline-terminated
// JSON line tagged with auth_type, for the C2 challenge/response/result
// frames.
func EncodeAuth(typ string, payload any) ([]byte, error) {
	return encodeTagged(authTypeTag, typ, payload)
}

func encodeTagged(tagField, typ string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", typ, err)
	}
	merged, err := mergeTypeTag(tagField, typ, body)
	if err != nil {
		return nil, err
	}
	return append(merged, '\n'), nil
}

// mergeTypeTag splices {tagField:typ} into the top level of an
// already-marshaled payload object, so the wire shape matches the
// tagged-enum style the original implementation used.
func mergeTypeTag(tagField, typ string, body json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: payload for %s is not a JSON object: %w", typ, err)
	}
	tag, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields[tagField] = tag
	return json.Marshal(fields)
}

// Decode reads either the data_type or the auth_type tag from a line
// and returns whichever is present, alongside the raw line so the
// caller can unmarshal into the concrete payload type it expects.
func Decode(line []byte) (string, json.RawMessage, error) {
	var probe struct {
		DataType string `json:"data_type"`
		AuthType string `json:"auth_type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", nil, fmt.Errorf("protocol: invalid JSON line: %w", err)
	}
	switch {
	case probe.DataType != "":
		return probe.DataType, line, nil
	case probe.AuthType != "":
		return probe.AuthType, line, nil
	default:
		return "", nil, fmt.Errorf("protocol: missing data_type/auth_type field")
	}
}
