package atom

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Utils is the collection of pure helpers exposed to handlers through the
// Execution Context: case folding, digests, base64, URL-escape, JSON
// parse/emit, UUID generation, numeric statistics, and the object-filter
// matcher. None of these touch runtime state.
type Utils struct{}

// MD5Hex returns the lowercase hex MD5 digest of data.
func (Utils) MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func (Utils) SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Base64Encode / Base64Decode wrap standard base64.
func (Utils) Base64Encode(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func (Utils) Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// URLEscape / URLUnescape wrap net/url's query escaping.
func (Utils) URLEscape(s string) string { return url.QueryEscape(s) }

func (Utils) URLUnescape(s string) (string, error) { return url.QueryUnescape(s) }

// JSONParse decodes a JSON document into a Value tree.
func (Utils) JSONParse(data []byte) (Value, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Null(), err
	}
	return FromNative(v), nil
}

// JSONEmit encodes a Value tree to JSON bytes.
func (Utils) JSONEmit(v Value) ([]byte, error) {
	return json.Marshal(v.ToNative())
}

// JSONField extracts a single field from a raw JSON document by gjson path
// without a full unmarshal, for handlers that only need one or two fields
// out of a large payload.
func (Utils) JSONField(data []byte, path string) (string, bool) {
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// UUID generates a new random (v4) identifier string.
func (Utils) UUID() string { return uuid.NewString() }

// FoldCase returns s case-folded for case-insensitive comparison, matching
// Go's own definition of case folding (strings.EqualFold's normal form).
func (Utils) FoldCase(s string) string { return strings.ToLower(s) }

// EqualFold reports whether s and t are equal under case folding, without a
// caller needing to fold both sides first.
func (Utils) EqualFold(s, t string) bool { return strings.EqualFold(s, t) }

// UpperCase / LowerCase expose the two directions of case conversion to
// handlers, alongside FoldCase's comparison-oriented fold.
func (Utils) UpperCase(s string) string { return strings.ToUpper(s) }

func (Utils) LowerCase(s string) string { return strings.ToLower(s) }

// Stats computes the standard numeric statistics over values.
func (Utils) Stats(values []float64) NumericStats { return ComputeStats(values) }

// FilterOp is a comparison operator accepted by Match.
type FilterOp string

const (
	OpEq  FilterOp = "$eq"
	OpGt  FilterOp = "$gt"
	OpGte FilterOp = "$gte"
	OpLt  FilterOp = "$lt"
	OpLte FilterOp = "$lte"
	OpNe  FilterOp = "$ne"
)

// Filter is a single field-path condition: doc[Path] <op> Value.
// Path is resolved against the document with JSONPath ("$.a.b" style, or a
// bare field name which is treated as "$.<field>").
type Filter struct {
	Path  string
	Op    FilterOp
	Value any
}

// Match evaluates a set of filters (implicit AND) against a document,
// supporting equality plus the comparison operators $gt $gte $lt $lte $ne.
func Match(doc any, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matchOne(doc, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchOne(doc any, f Filter) (bool, error) {
	path := f.Path
	if len(path) == 0 || path[0] != '$' {
		path = "$." + path
	}
	got, err := jsonpath.Get(path, doc)
	if err != nil {
		// jsonpath returns an error for a missing path; treat as no-match
		// rather than a hard failure.
		return false, nil
	}

	op := f.Op
	if op == "" {
		op = OpEq
	}
	switch op {
	case OpEq:
		return compareEqual(got, f.Value), nil
	case OpNe:
		return !compareEqual(got, f.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		gf, ok1 := toFloat(got)
		wf, ok2 := toFloat(f.Value)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch op {
		case OpGt:
			return gf > wf, nil
		case OpGte:
			return gf >= wf, nil
		case OpLt:
			return gf < wf, nil
		case OpLte:
			return gf <= wf, nil
		}
	}
	return false, nil
}

func compareEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
