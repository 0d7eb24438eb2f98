// Package entity describes the entity kinds the sync engine is instantiated
// for. The engine itself is generic; everything entity-specific lives in a
// Descriptor.
package entity

// Descriptor parameterizes one instantiation of the sync engine.
type Descriptor struct {
	// Type is the discriminator stored in local rows and queue entries,
	// e.g. "insurance_cards".
	Type string

	// Path is the server collection path segment, e.g. "insurance-cards".
	Path string

	// ScopeParam names the query parameter that scopes list requests to a
	// parent context, e.g. "patient_id".
	ScopeParam string

	// LocalFields lists locally-owned payload fields (free-text annotations)
	// that keep their local value when a conflict is merged. All other
	// fields take the server's value.
	LocalFields []string
}

// Built-in descriptors. One engine instance is created per descriptor.
var (
	InsuranceCards = Descriptor{
		Type:        "insurance_cards",
		Path:        "insurance-cards",
		ScopeParam:  "patient_id",
		LocalFields: []string{"notes"},
	}

	OutcomeMeasures = Descriptor{
		Type:        "outcome_measures",
		Path:        "outcome-measures",
		ScopeParam:  "patient_id",
		LocalFields: []string{"notes", "clinician_comment"},
	}

	Invoices = Descriptor{
		Type:        "invoices",
		Path:        "invoices",
		ScopeParam:  "patient_id",
		LocalFields: []string{"notes"},
	}

	ProtocolAssignments = Descriptor{
		Type:        "protocol_assignments",
		Path:        "protocol-assignments",
		ScopeParam:  "patient_id",
		LocalFields: []string{"notes"},
	}
)

// All returns every built-in descriptor, in a stable order.
func All() []Descriptor {
	return []Descriptor{InsuranceCards, OutcomeMeasures, Invoices, ProtocolAssignments}
}

// ByType looks a descriptor up by its Type discriminator.
func ByType(t string) (Descriptor, bool) {
	for _, d := range All() {
		if d.Type == t {
			return d, true
		}
	}
	return Descriptor{}, false
}
