package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
)

var ErrEventTypeDisabled = errors.New("alarm type disabled")

const ticketCategory = "network"

// descriptionExcluded lists event fields already rendered in the header or
// that carry only routing data.
var descriptionExcluded = map[string]bool{
	"alert_id":          true,
	"details":           true,
	"email_content":     true,
	"id":                true,
	"impacted_entities": true,
	"org_id":            true,
	"org_name":          true,
	"root_cause":        true,
	"site_id":           true,
	"site_name":         true,
	"status":            true,
	"suggestion":        true,
	"timestamp":         true,
	"type":              true,
}

// Result summarizes one webhook delivery.
type Result struct {
	Required int      `json:"required"`
	Created  int      `json:"created"`
	Messages []string `json:"messages,omitempty"`
}

// OK reports whether every required ticket was handled.
func (r *Result) OK() bool {
	return r.Created == r.Required
}

// Stats tracks correlator activity.
type Stats struct {
	Created  int64
	Updated  int64
	Closed   int64
	Failures int64
}

// Correlator raises, updates and closes tickets from alarms.
type Correlator struct {
	config   Config
	groups   map[string]bool
	resolver CIResolver
	tickets  TicketStore
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.RWMutex
	stats Stats
}

// NewCorrelator creates a new correlator.
func NewCorrelator(cfg Config, resolver CIResolver, tickets TicketStore, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EventTypes == nil {
		cfg.EventTypes = DefaultEventTypes()
	}
	groups := make(map[string]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groups[g] = true
	}
	return &Correlator{
		config:   cfg,
		groups:   groups,
		resolver: resolver,
		tickets:  tickets,
		logger:   logger,
		now:      time.Now,
	}
}

// Stats returns current correlator statistics.
func (c *Correlator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HandleWebhook decodes body and processes its alarms. Topics other than
// alarms return ErrUnsupportedTopic.
func (c *Correlator) HandleWebhook(ctx context.Context, body []byte) (*Result, error) {
	wh, err := ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	if wh.Topic != TopicAlarms {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTopic, wh.Topic)
	}
	return c.Process(ctx, wh.Events), nil
}

// Process raises one ticket per impacted entity of each alarm in a
// configured group, or one per alarm when it names no entity.
func (c *Correlator) Process(ctx context.Context, events []Event) *Result {
	result := &Result{}
	for _, ev := range events {
		if !c.groups[ev.Group()] {
			c.logger.Warn("ignoring alarm from unsupported group",
				zap.String("group", ev.Group()),
				zap.String("type", ev.Type()))
			continue
		}

		entities := ev.ImpactedEntities()
		if entities == nil {
			c.handle(ctx, ev, nil, result)
			continue
		}
		for i := range entities {
			c.handle(ctx, ev, &entities[i], result)
		}
	}
	return result
}

func (c *Correlator) handle(ctx context.Context, ev Event, entity *Entity, result *Result) {
	result.Required++
	if err := c.raise(ctx, ev, entity); err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.logger.Warn("alarm not ticketed",
			zap.String("type", ev.Type()),
			zap.String("alert_id", ev.AlertID()),
			zap.Error(err))
		result.Messages = append(result.Messages, err.Error())
		return
	}
	result.Created++
}

func (c *Correlator) raise(ctx context.Context, ev Event, entity *Entity) error {
	priority := c.config.priorityFor(ev)
	if !priority.Enabled {
		return fmt.Errorf("%w: %s", ErrEventTypeDisabled, ev.Type())
	}

	t := &Ticket{
		CorrelationID:    ev.AlertID(),
		Category:         ticketCategory,
		State:            StateNew,
		Impact:           priority.Impact,
		Urgency:          priority.Urgency,
		Cause:            ev.RootCause(),
		ShortDescription: ShortDescription(ev),
		Description:      Description(ev, entity),
	}
	if ev.Resolved() {
		t.State = StateResolved
	}
	c.bindCI(ctx, ev, entity, t)

	return c.save(ctx, t)
}

// bindCI attaches the device named by entity, or the alarm's site.
func (c *Correlator) bindCI(ctx context.Context, ev Event, entity *Entity, t *Ticket) {
	if c.resolver == nil {
		return
	}
	if entity != nil && entity.IsDevice() {
		mac := devices.NormalizeMAC(entity.MAC())
		d, err := c.resolver.FindByMAC(ctx, mac)
		if err != nil {
			c.logger.Warn("device lookup failed", zap.String("mac", mac), zap.Error(err))
		}
		if d != nil {
			t.CI, t.CIKind = d.Serial, CIKindDevice
			return
		}
		c.logger.Warn("no device found for alarm entity", zap.String("mac", mac))
		return
	}

	s, err := c.resolver.Site(ctx, ev.SiteID())
	if err != nil {
		c.logger.Warn("site lookup failed", zap.String("site_id", ev.SiteID()), zap.Error(err))
	}
	if s != nil {
		t.CI, t.CIKind = s.ID, CIKindSite
		return
	}
	c.logger.Warn("no site found for alarm", zap.String("site_id", ev.SiteID()))
}

// save closes or updates the ticket already open for the same alarm and CI,
// and creates one otherwise. A resolved alarm with nothing to close is done.
func (c *Correlator) save(ctx context.Context, t *Ticket) error {
	now := c.now()

	if t.CorrelationID != "" && t.CI != "" {
		existing, err := c.tickets.Find(ctx, t.CorrelationID, t.CI)
		switch {
		case err == nil:
			return c.updateExisting(ctx, existing, t, now)
		case !errors.Is(err, ErrTicketNotFound):
			return fmt.Errorf("finding ticket: %w", err)
		}
	}

	if t.State == StateResolved {
		return nil
	}

	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := c.tickets.Create(ctx, t); err != nil {
		return fmt.Errorf("creating ticket: %w", err)
	}
	c.mu.Lock()
	c.stats.Created++
	c.mu.Unlock()
	return nil
}

func (c *Correlator) updateExisting(ctx context.Context, existing, t *Ticket, now time.Time) error {
	existing.UpdatedAt = now
	if t.State == StateResolved {
		existing.State = StateResolved
		existing.CloseCode = "Solution provided"
		existing.CloseNotes = "Received Marvis validation"
		existing.WorkNotes = append(existing.WorkNotes, "Closed by alarm sync")
	} else {
		existing.State = t.State
		existing.WorkNotes = append(existing.WorkNotes, "Update from alarm sync:\n"+t.Description)
	}

	if err := c.tickets.Update(ctx, existing); err != nil {
		return fmt.Errorf("updating ticket %s: %w", existing.ID, err)
	}

	c.mu.Lock()
	if existing.State == StateResolved {
		c.stats.Closed++
	} else {
		c.stats.Updated++
	}
	c.mu.Unlock()
	return nil
}

// ShortDescription returns "[<site>] <type>".
func ShortDescription(ev Event) string {
	var b strings.Builder
	if name := ev.SiteName(); name != "" {
		b.WriteString("[" + name + "] ")
	}
	b.WriteString(ev.Type())
	return b.String()
}

// Description renders the alarm header, the impacted entity and the
// remaining alarm fields in the order the sender wrote them.
func Description(ev Event, entity *Entity) string {
	var b strings.Builder
	if name := ev.OrgName(); name != "" {
		fmt.Fprintf(&b, "Organization \"%s\" (id: %s)\n", name, ev.OrgID())
	}
	if name := ev.SiteName(); name != "" {
		fmt.Fprintf(&b, "Site \"%s\" (id: %s)\n", name, ev.SiteID())
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	if v := ev.Type(); v != "" {
		b.WriteString("Type: " + humanize(v) + "\n")
	}
	if v := ev.RootCause(); v != "" {
		b.WriteString("Root Cause: " + humanize(v) + "\n")
	}
	if v := ev.Suggestion(); v != "" {
		b.WriteString("Suggestion: " + humanize(v) + "\n")
	}

	if entity != nil {
		b.WriteString("\nImpacted Entity:\n")
		entity.raw.ForEach(func(key, value gjson.Result) bool {
			b.WriteString(humanize(key.String()) + ": " + fieldText(value) + "\n")
			return true
		})
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}
	ev.raw.ForEach(func(key, value gjson.Result) bool {
		if descriptionExcluded[key.String()] {
			return true
		}
		b.WriteString(humanize(key.String()) + ": " + fieldText(value) + "\n")
		return true
	})
	return b.String()
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func fieldText(v gjson.Result) string {
	switch {
	case v.IsArray():
		items := v.Array()
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = item.String()
		}
		return strings.Join(parts, ", ")
	case v.Type == gjson.Null:
		return "null"
	}
	return v.String()
}
