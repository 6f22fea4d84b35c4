package store

import (
	"fmt"

	"github.com/stewardlabs/steward/internal/core"
)

// Persisted document schema names. One logical schema per name,
// schema_version pinned inside each document.
const (
	SchemaPipelineState   = "pipeline_state"
	SchemaHeartbeatStatus = "heartbeat_status"
	SchemaEvent           = "events"
	SchemaProcessLeases   = "process_leases"
)

// Validator is the default core.ContractValidator. It performs shape
// checks on the known document set; a write carrying a document that
// fails here is rejected before touching durable storage.
type Validator struct{}

// NewValidator creates the default validator.
func NewValidator() Validator { return Validator{} }

// Validate dispatches by schema name.
func (Validator) Validate(schemaName string, doc any) error {
	switch schemaName {
	case SchemaPipelineState:
		state, ok := doc.(*core.PipelineState)
		if !ok {
			return core.ErrValidation(core.CodeContractViolation,
				fmt.Sprintf("%s payload has type %T", schemaName, doc))
		}
		return state.Validate()
	case SchemaHeartbeatStatus:
		hb, ok := doc.(*core.HeartbeatStatus)
		if !ok {
			return core.ErrValidation(core.CodeContractViolation,
				fmt.Sprintf("%s payload has type %T", schemaName, doc))
		}
		return hb.Validate()
	case SchemaEvent:
		e, ok := doc.(*core.Event)
		if !ok {
			return core.ErrValidation(core.CodeContractViolation,
				fmt.Sprintf("%s payload has type %T", schemaName, doc))
		}
		return e.Validate()
	case SchemaProcessLeases:
		pl, ok := doc.(*core.ProcessLeases)
		if !ok {
			return core.ErrValidation(core.CodeContractViolation,
				fmt.Sprintf("%s payload has type %T", schemaName, doc))
		}
		return pl.Validate()
	default:
		return core.ErrValidation(core.CodeContractViolation,
			fmt.Sprintf("unknown schema %q", schemaName))
	}
}

var _ core.ContractValidator = Validator{}
