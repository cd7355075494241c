package consent

import (
	"fmt"
	"strings"
	"time"
)

const (
	RequestType   = "consent_request"
	SchemaVersion = "0.1.0"
)

type Category string

const (
	CategoryCommunication Category = "communication"
	CategoryFinancial     Category = "financial"
	CategoryData          Category = "data"
	CategorySystem        Category = "system"
	CategoryPublic        Category = "public"
	CategoryIdentity      Category = "identity"
	CategoryPhysical      Category = "physical"
)

var categories = []Category{
	CategoryCommunication,
	CategoryFinancial,
	CategoryData,
	CategorySystem,
	CategoryPublic,
	CategoryIdentity,
	CategoryPhysical,
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(value string) (Category, error) {
	category := Category(strings.ToLower(strings.TrimSpace(value)))
	if !category.Valid() {
		return "", fmt.Errorf("unknown action category: %q", value)
	}
	return category, nil
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

func ParseRiskLevel(value string) (RiskLevel, error) {
	risk := RiskLevel(strings.ToLower(strings.TrimSpace(value)))
	if !risk.Valid() {
		return "", fmt.Errorf("unknown risk level: %q", value)
	}
	return risk, nil
}

// Decision is the terminal outcome handed back to a caller. Transitional authority
// statuses (pending, escalated, deferred) are never decisions.
type Decision string

const (
	DecisionApproved                  Decision = "approved"
	DecisionApprovedWithModifications Decision = "approved_with_modifications"
	DecisionDenied                    Decision = "denied"
	DecisionExpired                   Decision = "expired"
)

func ParseDecision(value string) (Decision, error) {
	decision := Decision(strings.ToLower(strings.TrimSpace(value)))
	switch decision {
	case DecisionApproved, DecisionApprovedWithModifications, DecisionDenied, DecisionExpired:
		return decision, nil
	}
	return "", fmt.Errorf("unknown consent decision: %q", value)
}

func (d Decision) Approved() bool {
	return d == DecisionApproved || d == DecisionApprovedWithModifications
}

// Status is what a remote authority reports while a request is being polled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
	StatusDeferred  Status = "deferred"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
)

func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case StatusPending, StatusEscalated, StatusDeferred, StatusApproved, StatusDenied, StatusExpired:
		return status, nil
	}
	return "", fmt.Errorf("unknown consent status: %q", value)
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// Decision maps a terminal status onto the decision it stands for.
func (s Status) Decision() (Decision, bool) {
	switch s {
	case StatusApproved:
		return DecisionApproved, true
	case StatusDenied:
		return DecisionDenied, true
	case StatusExpired:
		return DecisionExpired, true
	}
	return "", false
}

type Channel string

const (
	ChannelTerminal   Channel = "terminal"
	ChannelTelegram   Channel = "telegram"
	ChannelGateway    Channel = "gateway"
	ChannelPolicyAuto Channel = "policy_auto"
	ChannelCustom     Channel = "custom"
)

const (
	ApproverLocalUser     = "local_user"
	ApproverPolicyAuto    = "policy_auto"
	ApproverSystemTimeout = "system_timeout"

	ReasonTimedOut  = "request timed out"
	ReasonCancelled = "request cancelled"
)

type AgentInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Framework string `json:"framework,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// DisplayName is the name shown to a human approver.
func (a AgentInfo) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}

type ActionInfo struct {
	Tool            string         `json:"tool"`
	Category        Category       `json:"category"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	Parameters      map[string]any `json:"parameters"`
	Description     string         `json:"description"`
	EstimatedImpact string         `json:"estimated_impact,omitempty"`
}

type RequestContext struct {
	ConversationSummary string   `json:"conversation_summary,omitempty"`
	PreviousActions     []string `json:"previous_actions,omitempty"`
	Trigger             string   `json:"trigger,omitempty"`
}

type ConsentRequest struct {
	Version     string          `json:"version"`
	ID          string          `json:"id"`
	Agent       AgentInfo       `json:"agent"`
	Action      ActionInfo      `json:"action"`
	Nonce       string          `json:"nonce"`
	Timestamp   time.Time       `json:"timestamp"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Context     *RequestContext `json:"context,omitempty"`
	PolicyRef   string          `json:"policy_ref,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

// WireRequest is the canonical field set a request is serialized with.
type WireRequest struct {
	Type      string          `json:"type"`
	Version   string          `json:"version"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	ExpiresAt string          `json:"expires_at,omitempty"`
	Agent     WireAgent       `json:"agent"`
	Action    WireAction      `json:"action"`
	Nonce     string          `json:"nonce"`
	Context   *RequestContext `json:"context,omitempty"`
}

type WireAgent struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Framework *string `json:"framework"`
	SessionID *string `json:"session_id"`
}

type WireAction struct {
	Tool        string         `json:"tool"`
	Category    Category       `json:"category"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
}

func (r ConsentRequest) Wire() WireRequest {
	wire := WireRequest{
		Type:      RequestType,
		Version:   r.Version,
		ID:        r.ID,
		Timestamp: FormatTime(r.Timestamp),
		Agent: WireAgent{
			ID:        r.Agent.ID,
			Name:      optional(r.Agent.Name),
			Framework: optional(r.Agent.Framework),
			SessionID: optional(r.Agent.SessionID),
		},
		Action: r.Action.Wire(),
		Nonce:  r.Nonce,
	}
	if r.ExpiresAt != nil {
		wire.ExpiresAt = FormatTime(*r.ExpiresAt)
	}
	if r.Context != nil {
		context := *r.Context
		wire.Context = &context
	}
	return wire
}

func (a ActionInfo) Wire() WireAction {
	parameters := a.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}
	return WireAction{
		Tool:        a.Tool,
		Category:    a.Category,
		RiskLevel:   a.RiskLevel,
		Parameters:  parameters,
		Description: a.Description,
	}
}

type ConsentProof struct {
	Algorithm         string `json:"algorithm"`
	PublicKey         string `json:"public_key"`
	Signature         string `json:"signature"`
	SignedPayloadHash string `json:"signed_payload_hash"`
}

type ConsentConditions struct {
	ValidUntil         string `json:"valid_until,omitempty"`
	MaxRetries         *int   `json:"max_retries,omitempty"`
	RequireExactParams *bool  `json:"require_exact_params,omitempty"`
}

type ConsentResponse struct {
	RequestID     string             `json:"request_id"`
	Decision      Decision           `json:"decision"`
	ApproverID    string             `json:"approver_id,omitempty"`
	Channel       Channel            `json:"channel"`
	Reason        string             `json:"reason,omitempty"`
	Modifications map[string]any     `json:"modifications,omitempty"`
	Proof         *ConsentProof      `json:"proof,omitempty"`
	Timestamp     string             `json:"timestamp,omitempty"`
	Nonce         string             `json:"nonce,omitempty"`
	Conditions    *ConsentConditions `json:"conditions,omitempty"`
	AutoDecided   bool               `json:"auto_decided,omitempty"`
}

func (r ConsentResponse) Approved() bool {
	return r.Decision.Approved()
}

// TimeoutResponse is the fail-closed answer a channel gives when nobody
// decided in time.
func TimeoutResponse(requestID string, channel Channel, now time.Time) ConsentResponse {
	return ConsentResponse{
		RequestID:  requestID,
		Decision:   DecisionDenied,
		ApproverID: ApproverSystemTimeout,
		Channel:    channel,
		Reason:     ReasonTimedOut,
		Timestamp:  FormatTime(now),
	}
}

// CancelledResponse is returned alongside an error when the caller abandons a
// pending request.
func CancelledResponse(requestID string, channel Channel, now time.Time) ConsentResponse {
	response := TimeoutResponse(requestID, channel, now)
	response.Reason = ReasonCancelled
	return response
}

// FormatTime renders timestamps the way they are carried on the wire and inside
// signed payloads.
func FormatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
