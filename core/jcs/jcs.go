// Package jcs renders the canonical JSON form that consent proofs hash and
// sign, plus the RFC 8785 form for interop checks.
package jcs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/gowebpki/jcs"
)

const HashPrefix = "sha256:"

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1 << 53

// CanonicalizeJSON returns the canonical form of a single JSON document. Object
// keys are sorted by code point, there is no insignificant whitespace, strings
// are ASCII with \uXXXX escapes, integers are kept exact and other numbers use
// the shortest round-trip form with a fraction or exponent ("1.0", "1e-05").
func CanonicalizeJSON(input []byte) ([]byte, error) {
	value, err := decode(input)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeRFC8785 returns the RFC 8785 (JCS) form of JSON input.
func CanonicalizeRFC8785(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// Canonicalize marshals v and returns its canonical form. A nil value
// canonicalizes to "null". Integral float64 values beyond 2^53 are rejected
// because they no longer carry the integer they were built from.
func Canonicalize(v any) (string, error) {
	if err := checkSafeNumbers(reflect.ValueOf(v)); err != nil {
		return "", err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal canonical input: %w", err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return string(canonical), nil
}

// ContentHash returns "sha256:<hex>" over the UTF-8 bytes of canonical.
func ContentHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns its content hash.
func HashValue(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return ContentHash(canonical), nil
}

// IsContentHash reports whether value has the "sha256:<64 hex>" shape.
func IsContentHash(value string) bool {
	digest, ok := strings.CutPrefix(value, HashPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

func decode(input []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(input))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: trailing data after value")
	}
	return value, nil
}

func writeValue(buf *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(typed))
	case string:
		writeString(buf, typed)
	case json.Number:
		text, err := formatNumber(typed.String())
		if err != nil {
			return err
		}
		buf.WriteString(text)
	case []any:
		buf.WriteByte('[')
		for i, item := range typed {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, key)
			buf.WriteByte(':')
			if err := writeValue(buf, typed[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value %T", value)
	}
	return nil
}

func formatNumber(literal string) (string, error) {
	if !strings.ContainsAny(literal, ".eE") {
		integer, ok := new(big.Int).SetString(literal, 10)
		if !ok {
			return "", fmt.Errorf("invalid integer %q", literal)
		}
		return integer.String(), nil
	}
	value, err := strconv.ParseFloat(literal, 64)
	if err != nil && (math.IsInf(value, 0) || !errors.Is(err, strconv.ErrRange)) {
		return "", fmt.Errorf("number %q is out of range", literal)
	}
	return formatFloat(value), nil
}

// formatFloat renders the shortest round-trip digits, in exponent form when the
// decimal exponent is below -4 or at least 16.
func formatFloat(value float64) string {
	scientific := strconv.FormatFloat(value, 'e', -1, 64)
	_, exponentText, _ := strings.Cut(scientific, "e")
	exponent, _ := strconv.Atoi(exponentText)
	if exponent < -4 || exponent >= 16 {
		return scientific
	}
	fixed := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

func writeString(buf *bytes.Buffer, value string) {
	const hexDigits = "0123456789abcdef"
	escape := func(unit uint16) {
		buf.WriteString(`\u`)
		buf.WriteByte(hexDigits[unit>>12&0xf])
		buf.WriteByte(hexDigits[unit>>8&0xf])
		buf.WriteByte(hexDigits[unit>>4&0xf])
		buf.WriteByte(hexDigits[unit&0xf])
	}
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				buf.WriteRune(r)
			case r > 0xffff:
				high, low := utf16.EncodeRune(r)
				escape(uint16(high))
				escape(uint16(low))
			default:
				escape(uint16(r))
			}
		}
	}
	buf.WriteByte('"')
}

func checkSafeNumbers(value reflect.Value) error {
	switch value.Kind() {
	case reflect.Interface, reflect.Pointer:
		if value.IsNil() {
			return nil
		}
		return checkSafeNumbers(value.Elem())
	case reflect.Map:
		iter := value.MapRange()
		for iter.Next() {
			if err := checkSafeNumbers(iter.Value()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < value.NumField(); i++ {
			if !value.Type().Field(i).IsExported() {
				continue
			}
			if err := checkSafeNumbers(value.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := checkSafeNumbers(value.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Float32, reflect.Float64:
		number := value.Float()
		magnitude := math.Abs(number)
		// Below 1e21 encoding/json writes integral floats as bare integers.
		if magnitude > maxSafeInteger && magnitude < 1e21 && number == math.Trunc(number) {
			return fmt.Errorf("unsafe integer %s: exceeds 2^53 and may have lost precision; pass it as json.Number or int64", strconv.FormatFloat(number, 'f', -1, 64))
		}
	}
	return nil
}
