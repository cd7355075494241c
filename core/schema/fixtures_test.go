package schema_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

func TestFixturesParseInGoConsumers(t *testing.T) {
	root := resolveRepoRoot(t)

	request, err := schemaconsent.ParseRequest(readFixture(t, root, "request_valid.json"))
	if err != nil {
		t.Fatalf("parse request fixture: %v", err)
	}
	if request.Action.Category != schemaconsent.CategoryFinancial || request.Agent.Framework != "langchain" {
		t.Fatalf("unexpected request fixture decode: %#v", request)
	}
	if _, err := schemaconsent.ParseRequest(readFixture(t, root, "request_invalid.json")); err == nil {
		t.Fatalf("expected invalid request fixture to be rejected")
	}

	response, err := schemaconsent.ParseResponse(readFixture(t, root, "response_valid.json"))
	if err != nil {
		t.Fatalf("parse response fixture: %v", err)
	}
	if !response.Approved() || response.Channel != schemaconsent.ChannelTelegram {
		t.Fatalf("unexpected response fixture decode: %#v", response)
	}
	if _, err := schemaconsent.ParseResponse(readFixture(t, root, "response_invalid.json")); err == nil {
		t.Fatalf("expected transitional decision to be rejected")
	}

	status, err := schemaconsent.ParseStatusPayload(readFixture(t, root, "status_valid.json"))
	if err != nil {
		t.Fatalf("parse status fixture: %v", err)
	}
	if status.Status.Terminal() {
		t.Fatalf("deferred must not be terminal")
	}
}

func TestEmbeddedSchemasMatchRepositoryCopies(t *testing.T) {
	root := resolveRepoRoot(t)
	for _, name := range []string{
		schemaconsent.SchemaRequest,
		schemaconsent.SchemaResponse,
		schemaconsent.SchemaStatus,
		schemaconsent.SchemaSubmitResponse,
		schemaconsent.SchemaJournalEntry,
	} {
		embedded, err := schemaconsent.SchemaBytes(name)
		if err != nil {
			t.Fatalf("embedded schema %s: %v", name, err)
		}
		onDisk, err := os.ReadFile(filepath.Join(root, "core", "schema", "v1", "consent", "schemas", name+".schema.json"))
		if err != nil {
			t.Fatalf("read schema %s: %v", name, err)
		}
		if string(embedded) != string(onDisk) {
			t.Fatalf("embedded schema %s drifted from repository copy", name)
		}
	}
}

func readFixture(t *testing.T, root, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "core", "schema", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func resolveRepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}
