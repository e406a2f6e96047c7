package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/util"
)

type EventType string

const (
	EventSessionCreate      EventType = "pairing_session_create"
	EventSessionConnect     EventType = "pairing_session_connect"
	EventCredentialsSubmit  EventType = "pairing_credentials_submit"
	EventSessionQueryMiss   EventType = "pairing_session_query_miss"
	EventCodeSpaceExhausted EventType = "pairing_code_space_exhausted"
	EventRateLimitExceed    EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	Code      string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "pairing").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Code != "" {
		logger = logger.With().Str("code", util.MaskCode(event.Code)).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the caller address without the port. chi's RealIP
// middleware has already folded proxy headers into RemoteAddr.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
