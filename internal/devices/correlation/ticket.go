package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// Ticket states.
const (
	StateNew      = 1
	StateResolved = 6
)

// CI kinds a ticket can be bound to.
const (
	CIKindDevice = "device"
	CIKindSite   = "site"
)

var ErrTicketNotFound = errors.New("ticket not found")

// Ticket is an incident raised from an alarm.
type Ticket struct {
	ID               string    `json:"id"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	CI               string    `json:"ci,omitempty"`
	CIKind           string    `json:"ci_kind,omitempty"`
	Category         string    `json:"category"`
	State            int       `json:"state"`
	Impact           int       `json:"impact"`
	Urgency          int       `json:"urgency"`
	Cause            string    `json:"cause,omitempty"`
	ShortDescription string    `json:"short_description"`
	Description      string    `json:"description"`
	WorkNotes        []string  `json:"work_notes,omitempty"`
	CloseCode        string    `json:"close_code,omitempty"`
	CloseNotes       string    `json:"close_notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TicketStore persists tickets.
type TicketStore interface {
	// Find returns the ticket for a correlation id and CI, or
	// ErrTicketNotFound.
	Find(ctx context.Context, correlationID, ci string) (*Ticket, error)
	Create(ctx context.Context, t *Ticket) error
	Update(ctx context.Context, t *Ticket) error
}

// CIResolver looks up the configuration items a ticket can bind to. Both
// lookups return a nil record and no error when nothing matches.
type CIResolver interface {
	FindByMAC(ctx context.Context, mac string) (*devices.Device, error)
	Site(ctx context.Context, id string) (*devices.Site, error)
}
