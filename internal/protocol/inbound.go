// Package protocol parses inbound client envelopes.
package protocol

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned for frames that are not JSON objects, lack a
// type, or miss a required field.
var ErrMalformedPayload = errors.New("malformed payload")

// Inbound is a parsed client envelope. Fields are read lazily and validated
// by the typed accessors.
type Inbound struct {
	Type EventType
	body gjson.Result
}

// Parse validates the envelope shape of frame.
func Parse(frame []byte) (Inbound, error) {
	if !gjson.ValidBytes(frame) {
		return Inbound{}, errors.Wrap(ErrMalformedPayload, "frame is not valid JSON")
	}
	body := gjson.ParseBytes(frame)
	if !body.IsObject() {
		return Inbound{}, errors.Wrap(ErrMalformedPayload, "frame is not a JSON object")
	}
	typ := body.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Inbound{}, errors.Wrap(ErrMalformedPayload, `missing string field "type"`)
	}
	return Inbound{Type: EventType(typ.Str), body: body}, nil
}

// maxExactFloat is the largest magnitude below which every integer is
// representable in a float64.
const maxExactFloat = 1 << 53

// ID reads a required identifier that clients may send as a string or an
// integer. Numbers are rendered in canonical decimal form, so 42, 42.0 and
// 4.2e1 name the same topic.
func (in Inbound) ID(field string) (string, error) {
	v := in.body.Get(field)
	switch v.Type {
	case gjson.String:
		if v.Str != "" {
			return v.Str, nil
		}
	case gjson.Number:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		if n := v.Num; n == math.Trunc(n) && math.Abs(n) < maxExactFloat {
			return strconv.FormatInt(int64(n), 10), nil
		}
	}
	return "", missing(field, "string or integer")
}

// Text reads a required non-empty string.
func (in Inbound) Text(field string) (string, error) {
	v := in.body.Get(field)
	if v.Type != gjson.String || v.Str == "" {
		return "", missing(field, "non-empty string")
	}
	return v.Str, nil
}

// Bool reads a required boolean.
func (in Inbound) Bool(field string) (bool, error) {
	v := in.body.Get(field)
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, missing(field, "boolean")
	}
	return v.Bool(), nil
}

func missing(field, want string) error {
	return errors.Wrapf(ErrMalformedPayload, "field %q must be a %s", field, want)
}
