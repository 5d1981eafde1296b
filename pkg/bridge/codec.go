package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/extraction"
)

// EncodeResult serializes a result for a foreign callee.
func EncodeResult(r *extraction.Result) (string, error) {
	raw, err := r.Encode()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeEncoding, err, "encode extraction result")
	}
	return string(raw), nil
}

// EncodeConfig serializes a config. A nil config encodes the defaults.
func EncodeConfig(cfg *extraction.Config) (string, error) {
	raw, err := cfg.Encode()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeEncoding, err, "encode extraction config")
	}
	return string(raw), nil
}

// DecodeResult parses a serialized result, classifying failures as
// ENCODING_ERROR for invalid UTF-8 and DESERIALIZATION_ERROR otherwise.
func DecodeResult(data []byte) (*extraction.Result, error) {
	if len(data) == 0 {
		return nil, xerrors.New(xerrors.CodeNullResult, "empty result payload")
	}
	r, err := extraction.Decode(data)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, extraction.ErrInvalidUTF8):
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "decode extraction result")
	default:
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, "decode extraction result")
	}
}

// ToContainer converts a Go value into the generic container form shared by
// interpreter and script bridges: maps, slices, strings, float64s, bools and
// nil. A nil input yields a nil map.
func ToContainer(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("convert %T", v))
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("convert %T", v))
	}
	return out, nil
}

// FromContainer converts a container value back into out.
func FromContainer(c any, out any) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDeserialization, err, "convert container")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeDeserialization, err, fmt.Sprintf("convert container into %T", out))
	}
	return nil
}

// MergeContainer applies a post-processor's returned container onto result.
// Keys the callee left out keep their current values.
func MergeContainer(c any, result *extraction.Result) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDeserialization, err, "convert container")
	}
	if err := result.Merge(raw); err != nil {
		return xerrors.Wrap(xerrors.CodeDeserialization, err, "merge post-processor result")
	}
	return nil
}

// ResultFromRaw decodes a raw foreign return value into a result. Strings and
// byte slices are parsed as serialized JSON; maps go through FromContainer.
func ResultFromRaw(raw any) (*extraction.Result, error) {
	switch v := raw.(type) {
	case string:
		return DecodeResult([]byte(v))
	case []byte:
		return DecodeResult(v)
	case map[string]any:
		var r extraction.Result
		if err := FromContainer(v, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}
	return nil, xerrors.New(xerrors.CodeDeserialization, fmt.Sprintf("unexpected result type %T", raw))
}
