package consent

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davidahmann/acp/core/schema/validate"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	SchemaRequest        = "request"
	SchemaResponse       = "response"
	SchemaStatus         = "status"
	SchemaSubmitResponse = "submit_response"
	SchemaJournalEntry   = "journal_entry"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*validate.Schema{}
)

// SchemaFor returns the compiled embedded schema with the given name.
func SchemaFor(name string) (*validate.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if schema, ok := schemaCache[name]; ok {
		return schema, nil
	}
	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schema, err := validate.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	schemaCache[name] = schema
	return schema, nil
}

// SchemaBytes exposes the raw embedded schema document.
func SchemaBytes(name string) ([]byte, error) {
	return schemaFS.ReadFile("schemas/" + name + ".schema.json")
}

func validateAgainst(name string, data []byte) error {
	schema, err := SchemaFor(name)
	if err != nil {
		return err
	}
	return schema.Validate(data)
}

// SubmitResponse is the authority's immediate answer to a submission.
type SubmitResponse struct {
	RequestID    string `json:"request_id"`
	AutoApproved bool   `json:"auto_approved,omitempty"`
	AutoDenied   bool   `json:"auto_denied,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// StatusPayload is one poll result. Response is set only when the authority
// embedded a full decision record.
type StatusPayload struct {
	Status   Status
	Response *ConsentResponse
}

type ApproverInfo struct {
	ID      string `json:"id"`
	Channel string `json:"channel,omitempty"`
}

type responseEnvelope struct {
	RequestID     string             `json:"request_id"`
	Decision      string             `json:"decision"`
	ApproverID    *string            `json:"approver_id"`
	Approver      *ApproverInfo      `json:"approver"`
	Channel       *string            `json:"channel"`
	Reason        *string            `json:"reason"`
	Modifications map[string]any     `json:"modifications"`
	Proof         *ConsentProof      `json:"proof"`
	Timestamp     *string            `json:"timestamp"`
	Nonce         *string            `json:"nonce"`
	Conditions    *ConsentConditions `json:"conditions"`
	AutoDecided   bool               `json:"auto_decided"`
}

func ParseSubmitResponse(data []byte) (SubmitResponse, error) {
	if err := validateAgainst(SchemaSubmitResponse, data); err != nil {
		return SubmitResponse{}, fmt.Errorf("submit response: %w", err)
	}
	var out SubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return SubmitResponse{}, fmt.Errorf("decode submit response: %w", err)
	}
	return out, nil
}

func ParseStatusPayload(data []byte) (StatusPayload, error) {
	if err := validateAgainst(SchemaStatus, data); err != nil {
		return StatusPayload{}, fmt.Errorf("status payload: %w", err)
	}
	var raw struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StatusPayload{}, fmt.Errorf("decode status payload: %w", err)
	}
	status, err := ParseStatus(raw.Status)
	if err != nil {
		return StatusPayload{}, err
	}
	out := StatusPayload{Status: status}
	embedded := strings.TrimSpace(string(raw.Response))
	if embedded != "" && embedded != "null" {
		response, err := ParseResponse(raw.Response)
		if err != nil {
			return StatusPayload{}, err
		}
		out.Response = &response
	}
	return out, nil
}

// ParseResponse decodes a consent response strictly. Unknown decisions are
// rejected rather than passed through.
func ParseResponse(data []byte) (ConsentResponse, error) {
	if err := validateAgainst(SchemaResponse, data); err != nil {
		return ConsentResponse{}, fmt.Errorf("consent response: %w", err)
	}
	var envelope responseEnvelope
	if err := decodeNumbers(data, &envelope); err != nil {
		return ConsentResponse{}, fmt.Errorf("decode consent response: %w", err)
	}
	decision, err := ParseDecision(envelope.Decision)
	if err != nil {
		return ConsentResponse{}, err
	}
	out := ConsentResponse{
		RequestID:     envelope.RequestID,
		Decision:      decision,
		ApproverID:    deref(envelope.ApproverID),
		Channel:       Channel(deref(envelope.Channel)),
		Reason:        deref(envelope.Reason),
		Modifications: envelope.Modifications,
		Proof:         envelope.Proof,
		Timestamp:     deref(envelope.Timestamp),
		Nonce:         deref(envelope.Nonce),
		Conditions:    envelope.Conditions,
		AutoDecided:   envelope.AutoDecided,
	}
	if envelope.Approver != nil {
		if out.ApproverID == "" {
			out.ApproverID = envelope.Approver.ID
		}
		if out.Channel == "" {
			out.Channel = Channel(envelope.Approver.Channel)
		}
	}
	return out, nil
}

// ParseRequest decodes a request in its wire shape.
func ParseRequest(data []byte) (ConsentRequest, error) {
	if err := validateAgainst(SchemaRequest, data); err != nil {
		return ConsentRequest{}, fmt.Errorf("consent request: %w", err)
	}
	var wire WireRequest
	if err := decodeNumbers(data, &wire); err != nil {
		return ConsentRequest{}, fmt.Errorf("decode consent request: %w", err)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return ConsentRequest{}, fmt.Errorf("parse request timestamp: %w", err)
	}
	out := ConsentRequest{
		Version: wire.Version,
		ID:      wire.ID,
		Agent: AgentInfo{
			ID:        wire.Agent.ID,
			Name:      deref(wire.Agent.Name),
			Framework: deref(wire.Agent.Framework),
			SessionID: deref(wire.Agent.SessionID),
		},
		Action: ActionInfo{
			Tool:        wire.Action.Tool,
			Category:    wire.Action.Category,
			RiskLevel:   wire.Action.RiskLevel,
			Parameters:  wire.Action.Parameters,
			Description: wire.Action.Description,
		},
		Nonce:     wire.Nonce,
		Timestamp: timestamp.UTC(),
		Context:   wire.Context,
	}
	if wire.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, wire.ExpiresAt)
		if err != nil {
			return ConsentRequest{}, fmt.Errorf("parse request expiry: %w", err)
		}
		expiresAt = expiresAt.UTC()
		out.ExpiresAt = &expiresAt
	}
	return out, nil
}

// decodeNumbers keeps number literals as json.Number so parameters and
// modifications canonicalize exactly as they were sent.
func decodeNumbers(data []byte, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(out)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
