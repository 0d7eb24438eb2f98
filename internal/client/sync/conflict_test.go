package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/carekeeper/internal/client/entity"
)

func mergeToMap(t *testing.T, r *Resolver, local, server string) map[string]any {
	t.Helper()
	merged, err := r.Merge(json.RawMessage(local), json.RawMessage(server))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(merged, &m))
	return m
}

func TestMerge_ServerWinsOnSharedFields(t *testing.T) {
	r := NewResolver(entity.InsuranceCards)

	// staff corrected the copay at the desk while the clinician edited notes
	m := mergeToMap(t, r,
		`{"provider":"Acme","copay":70,"notes":"patient asked about coverage"}`,
		`{"provider":"Acme","copay":80,"notes":""}`,
	)

	assert.Equal(t, float64(80), m["copay"])
	assert.Equal(t, "patient asked about coverage", m["notes"])
}

func TestMerge_EmptyLocalAnnotationKeepsServerValue(t *testing.T) {
	r := NewResolver(entity.InsuranceCards)

	m := mergeToMap(t, r,
		`{"copay":70,"notes":""}`,
		`{"copay":80,"notes":"verified by front desk"}`,
	)

	assert.Equal(t, "verified by front desk", m["notes"])
}

func TestMerge_ServerFieldUnknownLocallySurvives(t *testing.T) {
	r := NewResolver(entity.InsuranceCards)

	m := mergeToMap(t, r,
		`{"copay":70}`,
		`{"copay":70,"group_number":"G-12"}`,
	)

	assert.Equal(t, "G-12", m["group_number"])
}

func TestMerge_MultipleLocalFields(t *testing.T) {
	r := NewResolver(entity.OutcomeMeasures)

	m := mergeToMap(t, r,
		`{"score":12,"notes":"left knee","clinician_comment":"improving"}`,
		`{"score":14,"notes":"","clinician_comment":""}`,
	)

	assert.Equal(t, float64(14), m["score"])
	assert.Equal(t, "left knee", m["notes"])
	assert.Equal(t, "improving", m["clinician_comment"])
}

func TestMerge_EmptyPayloads(t *testing.T) {
	r := NewResolver(entity.Invoices)

	merged, err := r.Merge(nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(merged))
}

func TestMerge_MalformedLocalPayload(t *testing.T) {
	r := NewResolver(entity.Invoices)

	_, err := r.Merge(json.RawMessage(`{broken`), json.RawMessage(`{}`))
	assert.Error(t, err)
}
