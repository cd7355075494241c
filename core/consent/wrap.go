package consent

import (
	"context"
	"fmt"

	coreerrors "github.com/davidahmann/acp/core/errors"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

// DeniedError is returned by a gated function whose call was not approved.
type DeniedError struct {
	Tool     string
	Response schemaconsent.ConsentResponse
}

func (e *DeniedError) Error() string {
	reason := e.Response.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("consent %s for %s: %s", e.Response.Decision, e.Tool, reason)
}

// Category tells a timeout and a policy block apart from a human denial.
func (e *DeniedError) Category() coreerrors.Category {
	switch {
	case e.Response.Decision == schemaconsent.DecisionExpired,
		e.Response.ApproverID == schemaconsent.ApproverSystemTimeout:
		return coreerrors.CategoryConsentTimeout
	case e.Response.AutoDecided, e.Response.ApproverID == schemaconsent.ApproverPolicyAuto:
		return coreerrors.CategoryPolicyBlocked
	}
	return coreerrors.CategoryConsentDenied
}

// NewDeniedError classifies a response that was not an approval. The category
// is also the error code.
func NewDeniedError(tool string, response schemaconsent.ConsentResponse) error {
	deniedErr := &DeniedError{Tool: tool, Response: response}
	category := deniedErr.Category()
	hints := map[coreerrors.Category]string{
		coreerrors.CategoryConsentTimeout: "nobody answered in time; request consent again",
		coreerrors.CategoryPolicyBlocked:  "the authority policy blocks this action",
		coreerrors.CategoryConsentDenied:  "the approver declined this action",
	}
	return coreerrors.Wrap(deniedErr, category, string(category), hints[category], false)
}

// Func is a tool call that receives the approved parameters.
type Func[T any] func(ctx context.Context, params map[string]any) (T, error)

// Wrap gates fn behind consent. Each call builds a new request from spec and
// the call's parameters. fn runs only on approval, with any approved
// modifications applied to a copy of the parameters.
func Wrap[T any](client *Client, spec ActionSpec, fn Func[T]) Func[T] {
	return func(ctx context.Context, params map[string]any) (T, error) {
		var zero T
		call := spec
		call.Parameters = params
		response, err := client.RequestConsent(ctx, call)
		if err != nil {
			return zero, err
		}
		if !response.Approved() {
			return zero, NewDeniedError(spec.Tool, response)
		}
		approved := schemaconsent.CloneParameters(params)
		if response.Decision == schemaconsent.DecisionApprovedWithModifications {
			approved = response.ApplyModifications(params)
		}
		if approved == nil {
			approved = map[string]any{}
		}
		return fn(ctx, approved)
	}
}

// Gate is Wrap for calls without a result.
func Gate(client *Client, spec ActionSpec, fn func(ctx context.Context, params map[string]any) error) func(ctx context.Context, params map[string]any) error {
	wrapped := Wrap(client, spec, func(ctx context.Context, params map[string]any) (struct{}, error) {
		return struct{}{}, fn(ctx, params)
	})
	return func(ctx context.Context, params map[string]any) error {
		_, err := wrapped(ctx, params)
		return err
	}
}
