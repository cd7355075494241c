// Package journal keeps an append-only JSONL record of resolved consent
// requests.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	coreerrors "github.com/davidahmann/acp/core/errors"
	"github.com/davidahmann/acp/core/fsx"
	"github.com/davidahmann/acp/core/jcs"
	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

type Entry struct {
	RequestID   string `json:"request_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Tool        string `json:"tool"`
	Category    string `json:"category"`
	RiskLevel   string `json:"risk_level"`
	Decision    string `json:"decision"`
	Channel     string `json:"channel"`
	ApproverID  string `json:"approver_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AutoDecided bool   `json:"auto_decided,omitempty"`
	ActionHash  string `json:"action_hash,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

// NewEntry summarizes a resolved request. Parameters are recorded only as
// their content hash.
func NewEntry(request schemaconsent.ConsentRequest, response schemaconsent.ConsentResponse, now time.Time) (Entry, error) {
	actionHash, err := jcs.HashValue(request.Action.Wire().Parameters)
	if err != nil {
		return Entry{}, fmt.Errorf("hash action parameters: %w", err)
	}
	return Entry{
		RequestID:   request.ID,
		AgentID:     request.Agent.ID,
		Tool:        request.Action.Tool,
		Category:    string(request.Action.Category),
		RiskLevel:   string(request.Action.RiskLevel),
		Decision:    string(response.Decision),
		Channel:     string(response.Channel),
		ApproverID:  response.ApproverID,
		Reason:      response.Reason,
		AutoDecided: response.AutoDecided,
		ActionHash:  actionHash,
		RecordedAt:  now.UTC().Format(time.RFC3339Nano),
	}, nil
}

func Append(path string, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("encode journal entry: %w", err), coreerrors.CategoryInternalFailure, "journal_encode_failed", "", false)
	}
	if err := validateLine(line); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "journal_entry_invalid", "journal entries need request, tool, decision and channel", false)
	}
	if err := fsx.AppendLine(path, line, 0o600); err != nil {
		return coreerrors.Wrap(fmt.Errorf("append journal: %w", err), coreerrors.CategoryIOFailure, "journal_write_failed", "check the journal path and its permissions", true)
	}
	return nil
}

// Read returns every entry in path in append order.
func Read(path string) ([]Entry, error) {
	lines, err := fsx.ReadLines(path)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "journal_read_failed", "check the journal path", false)
	}
	entries := make([]Entry, 0, len(lines))
	for index, line := range lines {
		if err := validateLine(line); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("journal line %d: %w", index+1, err), coreerrors.CategoryInvalidInput, "journal_entry_invalid", "the journal was edited or corrupted", false)
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, coreerrors.Wrap(fmt.Errorf("decode journal line %d: %w", index+1, err), coreerrors.CategoryInvalidInput, "journal_entry_invalid", "the journal was edited or corrupted", false)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func validateLine(line []byte) error {
	schema, err := schemaconsent.SchemaFor(schemaconsent.SchemaJournalEntry)
	if err != nil {
		return err
	}
	return schema.Validate(line)
}
