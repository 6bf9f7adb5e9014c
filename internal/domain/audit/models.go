package audit

import (
	"errors"
	"time"
)

var ErrTenantRequired = errors.New("audit query requires a tenant")

// Action names the kind of event an entry records.
type Action string

const (
	ActionConnectionCreated Action = "CONNECTION_CREATED"
	ActionTransition        Action = "CONNECTION_TRANSITION"
	ActionIngestionRun      Action = "INGESTION_RUN"
	ActionMatchDecision     Action = "MATCH_DECISION"
	ActionRuleCreated       Action = "RULE_CREATED"
	ActionRuleLearned       Action = "RULE_LEARNED"
	ActionRuleDeactivated   Action = "RULE_DEACTIVATED"
)

// Well-known non-human actors.
const (
	ActorScheduler = "system:scheduler"
	ActorIngestion = "system:ingestion"
	ActorAdmin     = "system:admin"
)

// Entry is an immutable audit record.
type Entry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Actor        string         `json:"actor"`
	Action       Action         `json:"action"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Filter selects entries for a paged read. TenantID is mandatory.
type Filter struct {
	TenantID     string
	ConnectionID string
	Actions      []Action
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// Page is one slice of a query result, newest first.
type Page struct {
	Entries    []*Entry `json:"entries"`
	NextOffset *int     `json:"nextOffset,omitempty"`
}
