package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// alnum strips a uuid down to its alphanumeric characters, matching the
// {alnum} suffix the messageId/requestId regexes require.
func alnum(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}

// NewMessageID generates a fresh msg_{YYYYMMDD}_{HHMMSS}_{alnum} ID for ts.
func NewMessageID(ts time.Time) string {
	return "msg_" + ts.UTC().Format("20060102") + "_" + ts.UTC().Format("150405") + "_" + alnum(uuid.New())[:12]
}

// NewCorrelationID generates a fresh req_{ts}_{alnum} correlation ID.
func NewCorrelationID(ts time.Time) string {
	return "req_" + ts.UTC().Format("20060102150405") + "_" + alnum(uuid.New())[:12]
}
