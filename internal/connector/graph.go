package connector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Graph API throttling codes: app, user, page and custom rate limits, plus
// the WhatsApp Cloud API throughput and pair limits.
var graphRateLimitCodes = map[int]bool{
	4: true, 17: true, 32: true, 613: true,
	80007: true, 130429: true, 131048: true, 131056: true,
}

// graphResult maps a non-2xx Graph response.
func graphResult(name string, r response, now time.Time) Result {
	var ge graphError
	_ = json.Unmarshal(r.body, &ge)
	msg := ge.Error.Message
	if msg == "" {
		msg = r.snippet()
	}
	if r.status == http.StatusTooManyRequests || graphRateLimitCodes[ge.Error.Code] {
		return rateLimited(retryAfter(r.header, now), fmt.Sprintf("%s: %s", name, msg))
	}
	if ge.Error.Code != 0 {
		return failed("%s: http %d: %s (code %d)", name, r.status, msg, ge.Error.Code)
	}
	return failed("%s: http %d: %s", name, r.status, msg)
}
