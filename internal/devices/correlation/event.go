package correlation

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// TopicAlarms is the only webhook topic that produces tickets.
const TopicAlarms = "alarms"

var (
	ErrMalformedWebhook = errors.New("malformed webhook body")
	ErrUnsupportedTopic = errors.New("topic not supported")
)

// Webhook is a decoded alarm webhook body.
type Webhook struct {
	Topic  string
	Events []Event
}

// ParseWebhook decodes a webhook body. Events keep their raw JSON so that
// description rendering can follow the sender's field order.
func ParseWebhook(body []byte) (*Webhook, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedWebhook
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body is not an object", ErrMalformedWebhook)
	}

	wh := &Webhook{Topic: root.Get("topic").String()}
	events := root.Get("events")
	if events.Exists() && !events.IsArray() {
		return nil, fmt.Errorf("%w: events is not a list", ErrMalformedWebhook)
	}
	for _, ev := range events.Array() {
		wh.Events = append(wh.Events, Event{raw: ev})
	}
	return wh, nil
}

// Event is one alarm from a webhook.
type Event struct {
	raw gjson.Result
}

// NewEvent wraps a single alarm object.
func NewEvent(data []byte) Event {
	return Event{raw: gjson.ParseBytes(data)}
}

func (e Event) str(key string) string { return e.raw.Get(key).String() }

func (e Event) ID() string         { return e.str("id") }
func (e Event) Type() string       { return e.str("type") }
func (e Event) Group() string      { return e.str("group") }
func (e Event) Severity() string   { return e.str("severity") }
func (e Event) Status() string     { return e.str("status") }
func (e Event) AlertID() string    { return e.str("alert_id") }
func (e Event) OrgID() string      { return e.str("org_id") }
func (e Event) OrgName() string    { return e.str("org_name") }
func (e Event) SiteID() string     { return e.str("site_id") }
func (e Event) SiteName() string   { return e.str("site_name") }
func (e Event) RootCause() string  { return e.str("root_cause") }
func (e Event) Suggestion() string { return e.str("suggestion") }

// Resolved reports whether the alarm has cleared.
func (e Event) Resolved() bool {
	return e.Status() == "resolved"
}

// ImpactedEntities returns the entities the alarm names. It returns nil when
// the event has no impacted_entities list and an empty slice when the list
// is empty.
func (e Event) ImpactedEntities() []Entity {
	list := e.raw.Get("impacted_entities")
	if !list.IsArray() {
		return nil
	}
	items := list.Array()
	out := make([]Entity, 0, len(items))
	for _, ent := range items {
		out = append(out, Entity{raw: ent})
	}
	return out
}

// Entity is one impacted device or site of an alarm.
type Entity struct {
	raw gjson.Result
}

// Type returns entity_type.
func (e Entity) Type() string { return e.raw.Get("entity_type").String() }

// MAC returns entity_mac.
func (e Entity) MAC() string { return e.raw.Get("entity_mac").String() }

// IsDevice reports whether the entity is a managed device rather than a site
// or client.
func (e Entity) IsDevice() bool {
	switch e.Type() {
	case "ap", "switch", "gateway":
		return true
	}
	return false
}
