package sync

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
)

// Choice selects a manual conflict resolution.
type Choice string

const (
	// ChoiceServerWins discards the local edit and adopts the server copy.
	ChoiceServerWins Choice = "server"

	// ChoiceClientWins force-overrides the server with the local payload,
	// submitted against the server's current version.
	ChoiceClientWins Choice = "client"
)

// Resolver merges a local payload with the server's authoritative copy.
//
// Policy: the server wins on structural and numeric fields; the client wins
// on locally-owned annotation fields (entity.Descriptor.LocalFields) when a
// local value is present.
type Resolver struct {
	desc entity.Descriptor
}

func NewResolver(desc entity.Descriptor) *Resolver {
	return &Resolver{desc: desc}
}

// Merge builds the merged payload: all fields take the server's current
// value except locally-owned fields, which keep the local value if present.
func (r *Resolver) Merge(local, server json.RawMessage) (json.RawMessage, error) {
	var localFields, serverFields map[string]any

	if len(local) > 0 {
		if err := json.Unmarshal(local, &localFields); err != nil {
			return nil, fmt.Errorf("failed to decode local payload: %w", err)
		}
	}
	if len(server) > 0 {
		if err := json.Unmarshal(server, &serverFields); err != nil {
			return nil, fmt.Errorf("failed to decode server payload: %w", err)
		}
	}
	if serverFields == nil {
		serverFields = map[string]any{}
	}

	merged := make(map[string]any, len(serverFields))
	for k, v := range serverFields {
		merged[k] = v
	}

	for _, f := range r.desc.LocalFields {
		v, ok := localFields[f]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		merged[f] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}
	return out, nil
}
