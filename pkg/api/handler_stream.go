package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/events"
	"github.com/agentlens/agentlens/pkg/models"
)

const heartbeatInterval = 30 * time.Second

// streamFilter narrows bus traffic to what one stream client asked for.
// Tenant matching is mandatory and checked first.
type streamFilter struct {
	tenantID   string
	sessionID  string
	agentID    string
	eventTypes map[models.EventType]bool
}

func (f *streamFilter) matches(msg *events.Message) bool {
	if msg.TenantID() != f.tenantID {
		return false
	}
	switch msg.Type {
	case events.TypeEventIngested:
		e := msg.Event
		if f.sessionID != "" && e.SessionID != f.sessionID {
			return false
		}
		if f.agentID != "" && e.AgentID != f.agentID {
			return false
		}
		if len(f.eventTypes) > 0 && !f.eventTypes[e.EventType] {
			return false
		}
	case events.TypeSessionUpdated:
		if f.sessionID != "" && msg.Session.ID != f.sessionID {
			return false
		}
		if f.agentID != "" && msg.Session.AgentID != f.agentID {
			return false
		}
	case events.TypeAlertTriggered:
		// Alerts are tenant-wide; session/agent filters do not apply.
	}
	return true
}

// frameName maps a bus message type to its wire frame name.
func frameName(msgType string) string {
	switch msgType {
	case events.TypeEventIngested:
		return "event"
	case events.TypeSessionUpdated:
		return "session_update"
	case events.TypeAlertTriggered:
		return "alert"
	}
	return msgType
}

// framePayload picks the JSON body for a frame.
func framePayload(msg *events.Message) any {
	switch msg.Type {
	case events.TypeEventIngested:
		return msg.Event
	case events.TypeSessionUpdated:
		return msg.Session
	case events.TypeAlertTriggered:
		return map[string]any{"rule": msg.Rule, "history": msg.History}
	}
	return msg
}

// streamHandler handles GET /api/stream: a long-lived framed event stream.
// One heartbeat is emitted immediately on connect and every 30s after.
func (s *Server) streamHandler(c *echo.Context) error {
	key := callerFrom(c)

	filter := &streamFilter{
		tenantID:  key.TenantID,
		sessionID: c.QueryParam("sessionId"),
		agentID:   c.QueryParam("agentId"),
	}
	types, err := parseEventTypes(c.QueryParam("eventTypes"))
	if err != nil {
		return err
	}
	if len(types) > 0 {
		filter.eventTypes = make(map[models.EventType]bool, len(types))
		for _, t := range types {
			filter.eventTypes[t] = true
		}
	}

	res := c.Response()
	h := res.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	if err := writeFrame(res, "heartbeat", map[string]any{"time": time.Now().UTC()}); err != nil {
		return nil
	}

	sub := s.bus.Subscribe(events.TypeWildcard)
	defer s.bus.Unsubscribe(sub)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := writeFrame(res, "heartbeat", map[string]any{"time": time.Now().UTC()}); err != nil {
				return nil
			}
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !filter.matches(&msg) {
				continue
			}
			if err := writeFrame(res, frameName(msg.Type), framePayload(&msg)); err != nil {
				return nil
			}
		}
	}
}

// writeFrame emits one "event: <type>\ndata: <json>\n\n" frame and flushes.
func writeFrame(res http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if f, ok := any(res).(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
