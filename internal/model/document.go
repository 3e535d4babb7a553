package model

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a fiscal document
type State string

const (
	StateDraft       State = "draft"
	StateBuilt       State = "built"
	StateSigned      State = "signed"
	StateTransmitted State = "transmitted"
	StateAuthorized  State = "authorized"
	StateRejected    State = "rejected"
	StateCancelled   State = "cancelled"
)

// AllStates lists every lifecycle state in pipeline order
var AllStates = []State{
	StateDraft,
	StateBuilt,
	StateSigned,
	StateTransmitted,
	StateAuthorized,
	StateRejected,
	StateCancelled,
}

// Valid reports whether s is a known state
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further pipeline stage runs for s
func (s State) Terminal() bool {
	return s == StateAuthorized || s == StateCancelled
}

func (s State) String() string {
	return string(s)
}

// Environment selects the authority environment (tpAmb)
type Environment int

const (
	EnvironmentProduction   Environment = 1
	EnvironmentHomologation Environment = 2
)

func (e Environment) String() string {
	switch e {
	case EnvironmentProduction:
		return "production"
	case EnvironmentHomologation:
		return "homologation"
	default:
		return "unknown"
	}
}

// ParseEnvironment converts a configuration value into an Environment
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "production", "producao", "1":
		return EnvironmentProduction, nil
	case "homologation", "homologacao", "test", "2", "":
		return EnvironmentHomologation, nil
	default:
		return 0, fmt.Errorf("unknown environment %q", s)
	}
}

// Identity identifies a document before authorization.
// (Provider, Series, Number) is unique per provider.
type Identity struct {
	Provider string `json:"provider"`
	Series   string `json:"series"`
	Number   string `json:"number"`
}

// Key returns a stable string form usable as a map or cache key
func (i Identity) Key() string {
	return i.Provider + "/" + i.Series + "/" + i.Number
}

func (i Identity) String() string {
	return fmt.Sprintf("provider=%s series=%s number=%s", i.Provider, i.Series, i.Number)
}

// Attempt records one transmission round-trip to the authority
type Attempt struct {
	At         time.Time `json:"at"`
	Attempts   int       `json:"attempts"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Code       string    `json:"code,omitempty"`
	Outcome    string    `json:"outcome"`
	Messages   []string  `json:"messages,omitempty"`
	Body       []byte    `json:"-"`
}

// Cancellation records the invalidation of an authorized document
type Cancellation struct {
	At       time.Time `json:"at"`
	Reason   string    `json:"reason"`
	Code     string    `json:"code"`
	Protocol string    `json:"protocol,omitempty"`
	Receipt  []byte    `json:"-"`
}

// Document is the persisted record the lifecycle tracker advances
type Document struct {
	ID             string        `json:"id"`
	Identity       Identity      `json:"identity"`
	DPSID          string        `json:"dps_id"`
	AccessKey      string        `json:"access_key,omitempty"`
	NFSeNumber     string        `json:"nfse_number,omitempty"`
	State          State         `json:"state"`
	Environment    Environment   `json:"environment"`
	Certificate    string        `json:"certificate,omitempty"`
	UnsignedXML    []byte        `json:"-"`
	SignedXML      []byte        `json:"-"`
	Receipt        []byte        `json:"-"`
	Messages       []string      `json:"messages,omitempty"`
	Alerts         []string      `json:"alerts,omitempty"`
	Attempts       []Attempt     `json:"attempts,omitempty"`
	Cancellation   *Cancellation `json:"cancellation,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	StateChangedAt time.Time     `json:"state_changed_at"`
}

// Clone returns a deep copy so stores never share slices with callers
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.UnsignedXML = cloneBytes(d.UnsignedXML)
	out.SignedXML = cloneBytes(d.SignedXML)
	out.Receipt = cloneBytes(d.Receipt)
	out.Messages = cloneStrings(d.Messages)
	out.Alerts = cloneStrings(d.Alerts)
	if d.Attempts != nil {
		out.Attempts = make([]Attempt, len(d.Attempts))
		for i, a := range d.Attempts {
			a.Messages = cloneStrings(a.Messages)
			a.Body = cloneBytes(a.Body)
			out.Attempts[i] = a
		}
	}
	if d.Cancellation != nil {
		c := *d.Cancellation
		c.Receipt = cloneBytes(c.Receipt)
		out.Cancellation = &c
	}
	return &out
}

// LastAttempt returns the most recent transmission attempt, if any
func (d *Document) LastAttempt() *Attempt {
	if len(d.Attempts) == 0 {
		return nil
	}
	return &d.Attempts[len(d.Attempts)-1]
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
