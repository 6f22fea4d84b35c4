// Package store provides the durable, event-sourced persistence layer.
// Two interchangeable backends (plain files, embedded SQLite) implement
// core.StateStore; both route every document through the codec in this
// file so that identical operation sequences yield byte-identical
// persisted documents regardless of backend.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// stateEnvelope wraps the pipeline state document with integrity metadata.
// A checksum mismatch on read is the named corrupt-state diagnostic.
type stateEnvelope struct {
	Version   int                 `json:"version"`
	Checksum  string              `json:"checksum"`
	UpdatedAt time.Time           `json:"updated_at"`
	State     *core.PipelineState `json:"state"`
}

const envelopeVersion = 1

func stateChecksum(state *core.PipelineState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:]), nil
}

// encodeState produces the canonical pipeline_state document bytes.
func encodeState(state *core.PipelineState) ([]byte, error) {
	checksum, err := stateChecksum(state)
	if err != nil {
		return nil, err
	}
	envelope := stateEnvelope{
		Version:   envelopeVersion,
		Checksum:  checksum,
		UpdatedAt: state.UpdatedAt,
		State:     state,
	}
	return json.MarshalIndent(envelope, "", "  ")
}

// decodeState parses and integrity-checks a pipeline_state document.
// Any parse failure or checksum mismatch surfaces as STATE_CORRUPTED.
func decodeState(data []byte) (*core.PipelineState, error) {
	var envelope stateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"pipeline_state document is unreadable").WithCause(err)
	}
	if envelope.State == nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"pipeline_state document has no state payload")
	}
	checksum, err := stateChecksum(envelope.State)
	if err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"pipeline_state document cannot be verified").WithCause(err)
	}
	if checksum != envelope.Checksum {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"pipeline_state checksum mismatch")
	}
	return envelope.State, nil
}

// encodeHeartbeat produces the canonical heartbeat_status document bytes.
func encodeHeartbeat(hb *core.HeartbeatStatus) ([]byte, error) {
	return json.MarshalIndent(hb, "", "  ")
}

func decodeHeartbeat(data []byte) (*core.HeartbeatStatus, error) {
	var hb core.HeartbeatStatus
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"heartbeat_status document is unreadable").WithCause(err)
	}
	return &hb, nil
}

// encodeEvent produces one canonical event-log record (no trailing newline).
func encodeEvent(e *core.Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(data []byte) (*core.Event, error) {
	var e core.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// encodeSnapshot produces one canonical snapshot record.
func encodeSnapshot(sn *core.Snapshot) ([]byte, error) {
	return json.Marshal(sn)
}

func decodeSnapshot(data []byte) (*core.Snapshot, error) {
	var sn core.Snapshot
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, err
	}
	return &sn, nil
}

// encodeLeases produces the canonical process_leases document bytes.
func encodeLeases(pl *core.ProcessLeases) ([]byte, error) {
	return json.MarshalIndent(pl, "", "  ")
}

func decodeLeases(data []byte) (*core.ProcessLeases, error) {
	var pl core.ProcessLeases
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			"process_leases document is unreadable").WithCause(err)
	}
	return &pl, nil
}
