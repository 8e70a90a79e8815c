package apiclient

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/rideline/ridectl/internal/common/domain"
)

// maxEnvelopeDepth bounds how far Unwrap descends.
const maxEnvelopeDepth = 6

// Unwrap strips response envelopes. Endpoints disagree on nesting: a trip may
// arrive as {data:{trip:{...}}}, {trip:{...}}, {data:{...}},
// {success:true,data:{...}} or as the bare object. Unwrap descends through
// the given keys and "data" until neither is present. An explicit
// {success:false} envelope is reported as a remote error.
func Unwrap(raw json.RawMessage, keys ...string) (json.RawMessage, error) {
	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return trimmed, nil
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}

		if success, ok := obj["success"]; ok && bytes.Equal(bytes.TrimSpace(success), []byte("false")) {
			return nil, domain.NewRemoteError(http.StatusOK, messageFrom(trimmed, "request was not successful"))
		}

		next, found := descend(obj, keys)
		if !found {
			return trimmed, nil
		}
		raw = next
	}
	return raw, nil
}

func descend(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && !isNull(v) {
			return v, true
		}
	}
	if v, ok := obj["data"]; ok && !isNull(v) {
		return v, true
	}
	return nil, false
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// messageFrom pulls a human message out of an error body. Servers use
// "message", "error" as a string, or "error" as {message}.
func messageFrom(body []byte, fallback string) string {
	var env struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}
	if env.Message != "" {
		return env.Message
	}
	if len(env.Error) > 0 {
		var s string
		if err := json.Unmarshal(env.Error, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return fallback
}
