// Package httpapi wires every SigningHandlers/KeygenService/
// AuthorizeService/SessionService operation onto the HTTP surface in
// spec.md §6: a chi router, a common JSON envelope, and the
// THRESHOLD_NODE_ROLE gate on the public signing endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/web3-authn/threshold-relayer/internal/log"
	"github.com/web3-authn/threshold-relayer/internal/rerr"
)

var logger = log.New("httpapi")

const maxLoggedMessageLen = 300

func truncateForLog(msg string) string {
	if len(msg) <= maxLoggedMessageLen {
		return msg
	}
	return msg[:maxLoggedMessageLen]
}

func writeOK(w http.ResponseWriter, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		writeErr(w, rerr.Internal(err, "marshal response"))
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		writeErr(w, rerr.Internal(err, "marshal response"))
		return
	}
	out := map[string]json.RawMessage{"ok": json.RawMessage("true")}
	for k, v := range fields {
		out[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func writeErr(w http.ResponseWriter, err error) {
	e, ok := rerr.As(err)
	if !ok {
		e, _ = rerr.As(rerr.Internal(err, "unhandled error"))
	}
	logger.Warnf("request failed code=%s message=%s", e.Code, truncateForLog(e.Message))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(struct {
		OK      bool   `json:"ok"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}{OK: false, Code: string(e.Code), Message: e.Message})
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return rerr.Wrap(rerr.CodeInvalidBody, err, "decode request body")
	}
	return nil
}
