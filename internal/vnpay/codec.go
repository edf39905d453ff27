package vnpay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
)

var errMalformedValue = errors.New("malformed parameter value")

// Pair is one canonicalized key/value.
type Pair struct {
	Key   string
	Value string
}

// Canonical is a parameter set in signing order.
type Canonical []Pair

// Join renders k=v&k=v without further encoding.
func (c Canonical) Join() string {
	var b strings.Builder
	for i, p := range c {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

func (c Canonical) Get(key string) (string, bool) {
	for _, p := range c {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Canonicalize sorts keys byte-wise and encodes every value the way the gateway
// does before signing. Nested maps become a JSON object of their own canonical
// form and are not encoded again.
func Canonicalize(params map[string]any) (Canonical, error) {
	keys := lo.Keys(params)
	sort.Strings(keys)
	out := make(Canonical, 0, len(keys))
	for _, key := range keys {
		value, err := canonicalValue(params[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, Pair{Key: key, Value: value})
	}
	return out, nil
}

// CanonicalizeStrings is Canonicalize for flat string parameter sets.
func CanonicalizeStrings(params map[string]string) Canonical {
	keys := lo.Keys(params)
	sort.Strings(keys)
	out := make(Canonical, 0, len(keys))
	for _, key := range keys {
		out = append(out, Pair{Key: key, Value: encodeComponent(params[key])})
	}
	return out
}

// Sign returns the lowercase hex HMAC-SHA512 of the joined canonical set.
func Sign(c Canonical, secret []byte) string {
	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write([]byte(c.Join()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether receivedHash signs params. It never panics.
func Verify(params map[string]any, receivedHash string, secret []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	receivedHash = strings.ToLower(strings.TrimSpace(receivedHash))
	if receivedHash == "" {
		return false
	}
	cloned := make(map[string]any, len(params))
	for k, v := range params {
		if k == FieldSecureHash || k == FieldSecureHashType {
			continue
		}
		cloned[k] = v
	}
	canonical, err := Canonicalize(cloned)
	if err != nil {
		return false
	}
	expected := Sign(canonical, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(receivedHash)) == 1
}

// VerifyStrings verifies a flat callback parameter set that still carries its hash fields.
func VerifyStrings(params map[string]string, secret []byte) bool {
	hash, ok := params[FieldSecureHash]
	if !ok {
		return false
	}
	asAny := make(map[string]any, len(params))
	for k, v := range params {
		asAny[k] = v
	}
	return Verify(asAny, hash, secret)
}

func canonicalValue(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", errMalformedValue
	case map[string]any:
		return nestedJSON(value)
	case map[string]string:
		converted := make(map[string]any, len(value))
		for k, item := range value {
			converted[k] = item
		}
		return nestedJSON(converted)
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, arrayElementString(item))
		}
		return encodeChecked(strings.Join(parts, ","))
	case []string:
		return encodeChecked(strings.Join(value, ","))
	default:
		s, ok := scalarString(value)
		if !ok {
			return "", errMalformedValue
		}
		return encodeChecked(s)
	}
}

func nestedJSON(m map[string]any) (string, error) {
	inner, err := Canonicalize(m)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, p := range inner {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, enc, p.Key); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, enc, p.Value); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func writeJSONString(buf *bytes.Buffer, enc *json.Encoder, s string) error {
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func arrayElementString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, arrayElementString(item))
		}
		return strings.Join(parts, ",")
	case map[string]any, map[string]string:
		return "[object Object]"
	default:
		s, _ := scalarString(value)
		return s
	}
}

func scalarString(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case bool:
		return strconv.FormatBool(value), true
	case int:
		return strconv.Itoa(value), true
	case int32:
		return strconv.FormatInt(int64(value), 10), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case uint:
		return strconv.FormatUint(uint64(value), 10), true
	case uint32:
		return strconv.FormatUint(uint64(value), 10), true
	case uint64:
		return strconv.FormatUint(value, 10), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case json.Number:
		return value.String(), true
	case fmt.Stringer:
		return value.String(), true
	default:
		return "", false
	}
}

func encodeChecked(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", errMalformedValue
	}
	return encodeComponent(s), nil
}

const upperHex = "0123456789ABCDEF"

// encodeComponent percent-encodes like encodeURIComponent, then writes spaces as '+'.
func encodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case isUnreserved(c):
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0f])
		}
	}
	return b.String()
}

// escapeComponent is encodeURIComponent without the space rewrite.
func escapeComponent(s string) string {
	return strings.ReplaceAll(encodeComponent(s), "+", "%20")
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
