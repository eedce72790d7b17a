package persistence

import (
	"encoding/json"
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

// record is the flat, backend-neutral form of a WorkflowInstance. Payloads
// are stored as validated JSON and decoded through the api payload
// registry on the way back out.
type record struct {
	ID            string `json:"id" bson:"_id"`
	Type          string `json:"type" bson:"type"`
	ReferenceID   string `json:"referenceId" bson:"reference_id"`
	State         string `json:"state" bson:"state"`
	Version       int64  `json:"version" bson:"version"`
	Payload       []byte `json:"payload,omitempty" bson:"payload,omitempty"`
	ContextKey    string `json:"contextKey,omitempty" bson:"context_key"`
	CorrelationID string `json:"correlationId,omitempty" bson:"correlation_id"`
	CreatedAt     int64  `json:"createdAt" bson:"created_at"`
	UpdatedAt     int64  `json:"updatedAt" bson:"updated_at"`
	ExpiresAt     int64  `json:"expiresAt" bson:"expires_at"`
}

func toRecord(inst *api.WorkflowInstance) (record, error) {
	payload, err := api.EncodePayload(inst.Payload)
	if err != nil {
		return record{}, err
	}
	return record{
		ID:            inst.ID,
		Type:          string(inst.Type),
		ReferenceID:   inst.ReferenceID,
		State:         string(inst.State),
		Version:       inst.Version,
		Payload:       payload,
		ContextKey:    inst.ContextKey,
		CorrelationID: inst.CorrelationID,
		CreatedAt:     unixNano(inst.CreatedAt),
		UpdatedAt:     unixNano(inst.UpdatedAt),
		ExpiresAt:     unixNano(inst.ExpiresAt),
	}, nil
}

func (r record) toInstance() (*api.WorkflowInstance, error) {
	typ := api.WorkflowType(r.Type)
	payload, err := api.DecodePayload(typ, r.Payload)
	if err != nil {
		return nil, err
	}
	return &api.WorkflowInstance{
		ID:            r.ID,
		Type:          typ,
		ReferenceID:   r.ReferenceID,
		State:         api.State(r.State),
		Version:       r.Version,
		Payload:       payload,
		ContextKey:    r.ContextKey,
		CorrelationID: r.CorrelationID,
		CreatedAt:     fromUnixNano(r.CreatedAt),
		UpdatedAt:     fromUnixNano(r.UpdatedAt),
		ExpiresAt:     fromUnixNano(r.ExpiresAt),
	}, nil
}

// encodeDocument serializes a full record as JSON, for key-value backends.
func encodeDocument(inst *api.WorkflowInstance) ([]byte, error) {
	rec, err := toRecord(inst)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func decodeDocument(data []byte) (*api.WorkflowInstance, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec.toInstance()
}

// Zero times are stored as 0 so "never expires" survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
