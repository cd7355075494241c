package validate

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestValidateSchemaFixtures(t *testing.T) {
	root := repoRoot(t)
	schemaDir := filepath.Join(root, "core", "schema", "v1", "consent", "schemas")
	fixtureDir := filepath.Join(root, "core", "schema", "testdata")
	cases := []struct {
		name    string
		schema  string
		valid   string
		invalid string
		isJSONL bool
	}{
		{name: "request", schema: "request.schema.json", valid: "request_valid.json", invalid: "request_invalid.json"},
		{name: "response", schema: "response.schema.json", valid: "response_valid.json", invalid: "response_invalid.json"},
		{name: "status", schema: "status.schema.json", valid: "status_valid.json", invalid: "status_invalid.json"},
		{name: "journal", schema: "journal_entry.schema.json", valid: "journal_valid.jsonl", invalid: "journal_invalid.jsonl", isJSONL: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			schemaPath := filepath.Join(schemaDir, tc.schema)
			validPath := filepath.Join(fixtureDir, tc.valid)
			invalidPath := filepath.Join(fixtureDir, tc.invalid)
			if tc.isJSONL {
				if err := ValidateJSONLFile(schemaPath, validPath); err != nil {
					t.Fatalf("expected valid jsonl, got error: %v", err)
				}
				if err := ValidateJSONLFile(schemaPath, invalidPath); err == nil {
					t.Fatalf("expected invalid jsonl to fail")
				}
				return
			}
			if err := ValidateJSONFile(schemaPath, validPath); err != nil {
				t.Fatalf("expected valid fixture, got error: %v", err)
			}
			if err := ValidateJSONFile(schemaPath, invalidPath); err == nil {
				t.Fatalf("expected invalid fixture to fail")
			}
		})
	}
}

func TestCompiledSchemaReuse(t *testing.T) {
	schema, err := Compile([]byte(`{"type":"object","required":["status"],"properties":{"status":{"enum":["pending","approved"]}}}`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := schema.Validate([]byte(`{"status":"pending"}`)); err != nil {
		t.Fatalf("expected valid document: %v", err)
	}
	if err := schema.Validate([]byte(`{"status":"maybe"}`)); err == nil {
		t.Fatalf("expected enum violation")
	}
	if err := schema.ValidateJSONL([]byte("{\"status\":\"approved\"}\n\n{\"status\":\"pending\"}\n")); err != nil {
		t.Fatalf("expected valid jsonl: %v", err)
	}
	if err := schema.ValidateJSONL([]byte("{\"status\":\"approved\"}\n{}\n")); err == nil {
		t.Fatalf("expected jsonl failure on line 2")
	}
}

func TestValidateMissingFiles(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	if err := os.WriteFile(schemaPath, []byte(`{"type":"object"}`), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := ValidateJSONFile(filepath.Join(dir, "missing.json"), schemaPath); err == nil {
		t.Fatalf("expected missing schema error")
	}
	if err := ValidateJSONFile(schemaPath, filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected missing document error")
	}
	if err := ValidateJSONLFile(schemaPath, filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Fatalf("expected missing jsonl error")
	}
	if _, err := Compile([]byte(`{`)); err == nil {
		t.Fatalf("expected compile error")
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to resolve caller path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", "..", ".."))
}
