package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIonQ(t *testing.T) {
	t.Parallel()

	tests := map[string]TaskStatus{
		"completed": Completed,
		"done":      Completed,
		"succeeded": Completed,
		"failed":    Failed,
		"error":     Failed,
		"canceled":  Cancelled,
		"cancelled": Cancelled,
		"running":   Running,
		"started":   Running,
		"submitted": Queued,
		"ready":     Queued,
		"COMPLETED": Completed,
		" Running ": Running,
		"":          Queued,
		"mystery":   Queued,
	}
	for literal, want := range tests {
		assert.Equal(t, want, IonQ(literal), literal)
	}
}

func TestPasqalCloud(t *testing.T) {
	t.Parallel()

	tests := map[string]TaskStatus{
		"PENDING":   Queued,
		"RUNNING":   Running,
		"CANCELING": Running,
		"DONE":      Completed,
		"CANCELED":  Cancelled,
		"TIMED_OUT": Failed,
		"timed-out": Failed,
		"ERROR":     Failed,
		"PAUSED":    Queued,
		"ARCHIVED":  Queued,
	}
	for literal, want := range tests {
		assert.Equal(t, want, PasqalCloud(literal), literal)
		assert.Equal(t, want, PasqalLocal(literal), literal)
	}
}

func TestDirectAccess(t *testing.T) {
	t.Parallel()

	tests := map[string]TaskStatus{
		"Queued":     Queued,
		"Running":    Running,
		"Completed":  Completed,
		"Failed":     Failed,
		"Cancelled":  Cancelled,
		"Canceled":   Cancelled,
		"Validating": Queued,
	}
	for literal, want := range tests {
		assert.Equal(t, want, DirectAccess(literal), literal)
	}
}

func TestNormalizersAreTotal(t *testing.T) {
	t.Parallel()

	canonical := map[TaskStatus]bool{}
	for _, st := range All {
		canonical[st] = true
	}

	inputs := []string{"", " ", "???", "QUEUED", "done", "DONE", "Cancelled", "état", "TIMED OUT"}
	for name, n := range map[string]Normalizer{
		"ionq": IonQ, "pasqal": PasqalCloud, "direct": DirectAccess, "mock": Mock,
	} {
		for _, in := range inputs {
			assert.True(t, canonical[n(in)], "%s(%q) = %q", name, in, n(in))
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, Queued.IsTerminal())
	assert.False(t, Running.IsTerminal())
	assert.True(t, Completed.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.True(t, Cancelled.IsTerminal())
}

func TestParseAndText(t *testing.T) {
	t.Parallel()

	st, err := Parse("completed")
	require.NoError(t, err)
	assert.Equal(t, Completed, st)

	_, err = Parse("Finished")
	assert.Error(t, err)

	data, err := json.Marshal(map[string]TaskStatus{"status": Running})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Running"}`, string(data))

	var decoded struct {
		Status TaskStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"cancelled"}`), &decoded))
	assert.Equal(t, Cancelled, decoded.Status)
	assert.Error(t, json.Unmarshal([]byte(`{"status":"nope"}`), &decoded))
}
