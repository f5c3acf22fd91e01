package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource_ScopedBeforeGlobal(t *testing.T) {
	t.Parallel()

	src := NewStaticSource("test", map[string]string{
		"QRMI_IONQ_CLOUD_API_KEY":              "global",
		"sim_QRMI_IONQ_CLOUD_API_KEY":          "scoped",
		"blank_QRMI_IONQ_CLOUD_API_KEY":        "  ",
		"FRESNEL_QRMI_PASQAL_CLOUD_PROJECT_ID": " p1 ",
	})
	ctx := context.Background()

	tests := []struct {
		resource string
		key      string
		want     string
		ok       bool
	}{
		{"sim", "QRMI_IONQ_CLOUD_API_KEY", "scoped", true},
		{"other", "QRMI_IONQ_CLOUD_API_KEY", "global", true},
		{"blank", "QRMI_IONQ_CLOUD_API_KEY", "global", true},
		{"", "QRMI_IONQ_CLOUD_API_KEY", "global", true},
		{"FRESNEL", "QRMI_PASQAL_CLOUD_PROJECT_ID", "p1", true},
		{"EMU_MPS", "QRMI_PASQAL_CLOUD_PROJECT_ID", "", false},
	}
	for _, tt := range tests {
		got, ok, err := src.Lookup(ctx, tt.resource, tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.resource, tt.key)
		assert.Equal(t, tt.want, got, "%s/%s", tt.resource, tt.key)
	}
	assert.Equal(t, "test", src.Name())
}

func TestEnvSource(t *testing.T) {
	t.Setenv("envtest_QRMI_TEST_VALUE", "from-env")

	got, ok, err := NewEnvSource().Lookup(context.Background(), "envtest", "QRMI_TEST_VALUE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-env", got)
}

func TestPasqalFileSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(`
# Pasqal credentials
; legacy comment
Username = "user@example.com"
password='s3cret'
project_id = proj-1
token =
auth_endpoint = authenticate.pasqal.cloud/oauth/token
not a pair
= orphan
`), 0o600))

	src := NewPasqalFileSource(path)
	ctx := context.Background()

	tests := map[string]string{
		KeyPasqalUsername:     "user@example.com",
		KeyPasqalPassword:     "s3cret",
		KeyPasqalProjectID:    "proj-1",
		KeyPasqalAuthEndpoint: "authenticate.pasqal.cloud/oauth/token",
	}
	for key, want := range tests {
		got, ok, err := src.Lookup(ctx, "FRESNEL", key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	_, ok, err := src.Lookup(ctx, "FRESNEL", KeyPasqalAuthToken)
	require.NoError(t, err)
	assert.False(t, ok, "empty values are absent")

	_, ok, err = src.Lookup(ctx, "FRESNEL", "QRMI_IONQ_CLOUD_API_KEY")
	require.NoError(t, err)
	assert.False(t, ok, "keys outside the file vocabulary")
}

func TestPasqalFileSource_Missing(t *testing.T) {
	t.Parallel()

	src := NewPasqalFileSource(filepath.Join(t.TempDir(), "absent"))
	_, ok, err := src.Lookup(context.Background(), "FRESNEL", KeyPasqalProjectID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = NewPasqalFileSource("").Lookup(context.Background(), "FRESNEL", KeyPasqalProjectID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlurmSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "qrmi_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "resources": [
    {"name": "EMU_MPS", "type": "pasqal-cloud", "environment": {"QRMI_PASQAL_CLOUD_PROJECT_ID": "emu-project"}},
    {"name": "FRESNEL", "type": "pasqal-cloud", "environment": {
      "QRMI_PASQAL_CLOUD_PROJECT_ID": "qpu-project",
      "QRMI_PASQAL_CLOUD_AUTH_TOKEN": " "
    }}
  ]
}`), 0o600))

	src := NewSlurmSource(path)
	ctx := context.Background()

	got, ok, err := src.Lookup(ctx, "FRESNEL", KeyPasqalProjectID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "qpu-project", got)

	_, ok, err = src.Lookup(ctx, "FRESNEL", KeyPasqalAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = src.Lookup(ctx, "FRESNEL_CAN1", KeyPasqalProjectID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlurmSource_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, ok, err := NewSlurmSource(filepath.Join(dir, "absent.json")).Lookup(context.Background(), "r", "K")
	require.NoError(t, err)
	assert.False(t, ok)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"resources":`), 0o600))
	_, _, err = NewSlurmSource(bad).Lookup(context.Background(), "r", "K")
	assert.Error(t, err)
}
