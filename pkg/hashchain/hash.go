package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
)

// HashVersion is the canonical serialization version, embedded as "v" in the
// hash input. Bump only with a migration plan: stored hashes are permanent.
const HashVersion = 2

// TimestampFormat is the ISO-8601 UTC form used in the hash input.
// Millisecond precision; always "Z".
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical hash-input form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ComputeHashRaw computes the event hash from pre-canonicalized payload and
// metadata bytes. This is the hot-path variant: the store keeps the canonical
// bytes, so re-verification never re-encodes.
//
// Hash input field order is fixed and part of the wire contract:
// {v, id, timestamp, sessionId, agentId, eventType, severity, payload,
// metadata, prevHash}. prevHash is the JSON null token for genesis events.
func ComputeHashRaw(id string, timestamp time.Time, sessionID, agentID string,
	eventType models.EventType, severity models.Severity,
	payload, metadata []byte, prevHash *string) string {

	var buf bytes.Buffer
	buf.WriteString(`{"v":2,"id":`)
	writeJSONString(&buf, id)
	buf.WriteString(`,"timestamp":`)
	writeJSONString(&buf, FormatTimestamp(timestamp))
	buf.WriteString(`,"sessionId":`)
	writeJSONString(&buf, sessionID)
	buf.WriteString(`,"agentId":`)
	writeJSONString(&buf, agentID)
	buf.WriteString(`,"eventType":`)
	writeJSONString(&buf, string(eventType))
	buf.WriteString(`,"severity":`)
	writeJSONString(&buf, string(severity))
	buf.WriteString(`,"payload":`)
	if len(payload) == 0 {
		buf.WriteString("{}")
	} else {
		buf.Write(payload)
	}
	buf.WriteString(`,"metadata":`)
	if len(metadata) == 0 {
		buf.WriteString("{}")
	} else {
		buf.Write(metadata)
	}
	buf.WriteString(`,"prevHash":`)
	if prevHash == nil {
		buf.WriteString("null")
	} else {
		writeJSONString(&buf, *prevHash)
	}
	buf.WriteByte('}')

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// ComputeHash canonicalizes payload/metadata values and hashes them. Produces
// the same digest as ComputeHashRaw over the canonical bytes.
func ComputeHash(id string, timestamp time.Time, sessionID, agentID string,
	eventType models.EventType, severity models.Severity,
	payload any, metadata map[string]any, prevHash *string) (string, error) {

	p, err := CanonicalizeValue(payload)
	if err != nil {
		return "", err
	}
	m, err := CanonicalizeValue(metadata)
	if err != nil {
		return "", err
	}
	return ComputeHashRaw(id, timestamp, sessionID, agentID, eventType, severity, p, m, prevHash), nil
}

// EventHash recomputes the hash of a stored event from its fields.
func EventHash(e *models.Event) string {
	return ComputeHashRaw(e.ID, e.Timestamp, e.SessionID, e.AgentID,
		e.EventType, e.Severity, e.Payload, e.Metadata, e.PrevHash)
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail.
		buf.WriteString(`""`)
		return
	}
	buf.Write(b)
}
