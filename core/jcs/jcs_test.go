package jcs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCanonicalizeJSON(t *testing.T) {
	in := []byte(`{ "b":2, "a":1 }`)
	want := `{"a":1,"b":2}`
	out, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("canonicalize error: %v", err)
	}
	if string(out) != want {
		t.Fatalf("unexpected canonical form: %s", string(out))
	}
}

func TestCanonicalizeIgnoresInsertionOrder(t *testing.T) {
	first, err := Canonicalize(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("canonicalize first: %v", err)
	}
	second, err := Canonicalize(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("canonicalize second: %v", err)
	}
	if first != second || first != `{"a":2,"b":1}` {
		t.Fatalf("expected identical canonical forms, got %s and %s", first, second)
	}
}

func TestCanonicalizeNestedValues(t *testing.T) {
	value := map[string]any{
		"z": []any{map[string]any{"y": true, "x": nil}, "keep", 3},
		"a": map[string]any{"d": "<tag>", "c": map[string]any{}},
	}
	got, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":{"c":{},"d":"<tag>"},"z":[{"x":null,"y":true},"keep",3]}`
	if got != want {
		t.Fatalf("unexpected canonical form:\nwant %s\ngot  %s", want, got)
	}
	if strings.ContainsAny(got, " \n\t") {
		t.Fatalf("canonical form must not contain whitespace: %s", got)
	}
}

func TestCanonicalizeNil(t *testing.T) {
	got, err := Canonicalize(nil)
	if err != nil {
		t.Fatalf("canonicalize nil: %v", err)
	}
	if got != "null" {
		t.Fatalf("unexpected nil form: %s", got)
	}
	var nilMap map[string]any
	got, err = Canonicalize(nilMap)
	if err != nil {
		t.Fatalf("canonicalize nil map: %v", err)
	}
	if got != "null" {
		t.Fatalf("unexpected nil map form: %s", got)
	}
}

func TestCanonicalizeRoundTripIsIdempotent(t *testing.T) {
	values := []any{
		map[string]any{"to": "team@example.com", "cc": []any{"b", "a"}, "n": 1.5},
		[]any{map[string]any{"b": 2, "a": 1}, nil, "x"},
		map[string]any{"nested": map[string]any{"k2": map[string]any{"k1": false}}},
	}
	for _, value := range values {
		first, err := Canonicalize(value)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		var parsed any
		if err := json.Unmarshal([]byte(first), &parsed); err != nil {
			t.Fatalf("parse canonical output: %v", err)
		}
		second, err := Canonicalize(parsed)
		if err != nil {
			t.Fatalf("canonicalize parsed: %v", err)
		}
		if first != second {
			t.Fatalf("round trip changed canonical form:\n%s\n%s", first, second)
		}
	}
}

func TestContentHash(t *testing.T) {
	hash := ContentHash(`{"a":1}`)
	if !IsContentHash(hash) {
		t.Fatalf("unexpected hash shape: %s", hash)
	}
	if hash != ContentHash(`{"a":1}`) {
		t.Fatalf("content hash must be pure")
	}
	if hash == ContentHash(`{"a":2}`) {
		t.Fatalf("single byte change must change the hash")
	}
	// sha256 of the empty string.
	if got := ContentHash(""); got != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty hash: %s", got)
	}
}

func TestHashValueMatchesCanonicalHash(t *testing.T) {
	value := map[string]any{"b": "2", "a": "1"}
	got, err := HashValue(value)
	if err != nil {
		t.Fatalf("hash value: %v", err)
	}
	if got != ContentHash(`{"a":"1","b":"2"}`) {
		t.Fatalf("unexpected hash: %s", got)
	}
}

func TestIsContentHash(t *testing.T) {
	for _, value := range []string{"", "sha256:", "sha256:zz", "md5:" + strings.Repeat("a", 64), strings.Repeat("a", 64)} {
		if IsContentHash(value) {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
}

func TestCanonicalizeJSONInvalid(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{`))
	if err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := Canonicalize(map[string]any{"bad": func() {}}); err == nil {
		t.Fatalf("expected marshal error for unsupported value")
	}
}

func TestCanonicalizeJSONMatchesProtocolForm(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "non_ascii", in: `{"city":"Zürich","b":1,"a":2}`, want: `{"a":2,"b":1,"city":"Z\u00fcrich"}`},
		{name: "astral", in: `{"emoji":"ok 🎉"}`, want: `{"emoji":"ok \ud83c\udf89"}`},
		{name: "controls", in: `{"s":"a\"b\\c\n\u0001\u007f/<>"}`, want: `{"s":"a\"b\\c\n\u0001\u007f/<>"}`},
		{name: "integral_float", in: `{"amount":1.0}`, want: `{"amount":1.0}`},
		{name: "exponent_float", in: `[1E5,1e16,0.0001,0.00001,-0.0,2.50]`, want: `[100000.0,1e+16,0.0001,1e-05,-0.0,2.5]`},
		{name: "large_integer", in: `{"id":12345678901234567891}`, want: `{"id":12345678901234567891}`},
		{name: "negative_zero_integer", in: `-0`, want: `0`},
		{name: "key_order_by_code_point", in: `{"é":1,"z":2,"A":3}`, want: `{"A":3,"z":2,"\u00e9":1}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(test.in))
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if string(got) != test.want {
				t.Fatalf("unexpected canonical form:\nwant %s\ngot  %s", test.want, string(got))
			}
		})
	}
}

func TestCanonicalizeProtocolHash(t *testing.T) {
	got, err := Canonicalize(map[string]any{"city": "Zürich", "b": 1, "a": 2})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got != `{"a":2,"b":1,"city":"Z\u00fcrich"}` {
		t.Fatalf("unexpected canonical form: %s", got)
	}
	if ContentHash(got) == ContentHash(`{"a":2,"b":1,"city":"Zürich"}`) {
		t.Fatalf("escaped and raw forms must hash differently")
	}
}

func TestCanonicalizeNumbers(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "int64_exact", value: map[string]any{"n": int64(9007199254740993)}, want: `{"n":9007199254740993}`},
		{name: "uint64_exact", value: map[string]any{"n": uint64(12345678901234567891)}, want: `{"n":12345678901234567891}`},
		{name: "json_number_kept", value: map[string]any{"n": json.Number("1.0")}, want: `{"n":1.0}`},
		{name: "safe_float", value: map[string]any{"n": 1.5}, want: `{"n":1.5}`},
		{name: "unsafe_float_integer", value: map[string]any{"n": 12345678901234567891.0}, wantErr: true},
		{name: "unsafe_float_nested", value: []any{map[string]any{"n": float64(1 << 60)}}, wantErr: true},
		{name: "large_float_exponent", value: map[string]any{"n": 1e300}, want: `{"n":1e+300}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Canonicalize(test.value)
			if test.wantErr {
				if err == nil {
					t.Fatalf("expected unsafe number to be rejected, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if got != test.want {
				t.Fatalf("unexpected canonical form: want %s got %s", test.want, got)
			}
		})
	}
}

func TestCanonicalizeJSONRejectsUnrepresentable(t *testing.T) {
	for _, input := range []string{`{"n":1e400}`, `{"a":1} {"b":2}`} {
		if _, err := CanonicalizeJSON([]byte(input)); err == nil {
			t.Fatalf("expected %s to be rejected", input)
		}
	}
}

func TestCanonicalizeRoundTripPreservesNumberLiterals(t *testing.T) {
	first, err := CanonicalizeJSON([]byte(`{"amount":1.0,"id":12345678901234567891,"name":"Zürich"}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	second, err := CanonicalizeJSON(first)
	if err != nil {
		t.Fatalf("canonicalize canonical output: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("canonical form is not idempotent:\n%s\n%s", first, second)
	}
}

func TestCanonicalizeRFC8785(t *testing.T) {
	got, err := CanonicalizeRFC8785([]byte(`{"city":"Zürich","amount":1.0}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"amount":1,"city":"Zürich"}` {
		t.Fatalf("unexpected RFC 8785 form: %s", got)
	}
}
