// Package consent is the agent-facing client: it classifies an action, builds a
// consent request and routes it to the channel chosen at construction time.
package consent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/davidahmann/acp/core/classify"
	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
	"github.com/google/uuid"
)

const (
	requestIDPrefix = "cr_"
	nonceBytes      = 32
)

// ActionSpec describes a tool call awaiting consent. Category and RiskLevel
// override classification when set.
type ActionSpec struct {
	Tool            string
	Description     string
	Parameters      map[string]any
	Category        *schemaconsent.Category
	RiskLevel       *schemaconsent.RiskLevel
	EstimatedImpact string
	Context         *schemaconsent.RequestContext
	SessionID       string
}

// NewRequest classifies spec and builds a request with a fresh id and nonce.
// Parameters are deep-copied so later caller mutation cannot alter what is
// shown to the approver.
func NewRequest(agent schemaconsent.AgentInfo, spec ActionSpec, now time.Time, ttl time.Duration) (schemaconsent.ConsentRequest, classify.Result, error) {
	tool := strings.TrimSpace(spec.Tool)
	if tool == "" {
		return schemaconsent.ConsentRequest{}, classify.Result{}, coreerrors.Wrap(fmt.Errorf("tool name is required"), coreerrors.CategoryInvalidInput, "tool_missing", "name the tool being called", false)
	}
	if spec.Category != nil && !spec.Category.Valid() {
		return schemaconsent.ConsentRequest{}, classify.Result{}, invalidOverride(string(*spec.Category))
	}
	if spec.RiskLevel != nil && !spec.RiskLevel.Valid() {
		return schemaconsent.ConsentRequest{}, classify.Result{}, invalidOverride(string(*spec.RiskLevel))
	}
	classified := classify.Classify(tool, spec.Category, spec.RiskLevel)

	id, err := NewRequestID()
	if err != nil {
		return schemaconsent.ConsentRequest{}, classify.Result{}, err
	}
	nonce, err := NewNonce()
	if err != nil {
		return schemaconsent.ConsentRequest{}, classify.Result{}, err
	}
	agent.SessionID = spec.SessionID
	if strings.TrimSpace(agent.ID) == "" {
		agent.ID = "default"
	}
	request := schemaconsent.ConsentRequest{
		Version: schemaconsent.SchemaVersion,
		ID:      id,
		Agent:   agent,
		Action: schemaconsent.ActionInfo{
			Tool:            tool,
			Category:        classified.Category,
			RiskLevel:       classified.Risk,
			Parameters:      schemaconsent.CloneParameters(spec.Parameters),
			Description:     spec.Description,
			EstimatedImpact: spec.EstimatedImpact,
		},
		Nonce:     nonce,
		Timestamp: now.UTC(),
	}
	if request.Action.Parameters == nil {
		request.Action.Parameters = map[string]any{}
	}
	if request.Action.Description == "" {
		request.Action.Description = "Execute " + tool
	}
	if ttl > 0 {
		expiresAt := now.UTC().Add(ttl)
		request.ExpiresAt = &expiresAt
	}
	if spec.Context != nil {
		copied := *spec.Context
		copied.PreviousActions = append([]string(nil), spec.Context.PreviousActions...)
		request.Context = &copied
	}
	return request, classified, nil
}

// NewRequestID returns "cr_" followed by the hex of a random UUID.
func NewRequestID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("generate request id: %w", err), coreerrors.CategoryInternalFailure, "entropy_unavailable", "", true)
	}
	return requestIDPrefix + strings.ReplaceAll(id.String(), "-", ""), nil
}

func NewNonce() (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", coreerrors.Wrap(fmt.Errorf("generate nonce: %w", err), coreerrors.CategoryInternalFailure, "entropy_unavailable", "", true)
	}
	return hex.EncodeToString(raw), nil
}

func invalidOverride(value string) error {
	return coreerrors.Wrap(fmt.Errorf("invalid classification override %q", value), coreerrors.CategoryInvalidInput, "classification_invalid", "use a known category and risk level", false)
}
