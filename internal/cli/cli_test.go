package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagship-go/internal/engine"
)

// ---- profiles ----

func TestConfig_InitAndLoad(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLAGSHIP_SDK_KEY", "")

	require.NoError(t, InitConfig("sdk-123"))

	info, err := os.Stat(filepath.Join(home, ".flagship", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.DefaultProfile)
	assert.Equal(t, "sdk-123", cfg.Profiles["default"].SDKKey)

	profile, name, err := ResolveProfile("", "", "https://cdn.example.com")
	require.NoError(t, err)
	assert.Equal(t, "default", name)
	assert.Equal(t, "sdk-123", profile.SDKKey)
	assert.Equal(t, "https://cdn.example.com", profile.BaseURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles)
}

func TestResolveProfile_Priority(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLAGSHIP_SDK_KEY", "from-env")
	t.Setenv("FLAGSHIP_BASE_URL", "https://env.example.com")

	p, name, err := ResolveProfile("", "from-flag", "")
	require.NoError(t, err)
	assert.Equal(t, "flags", name)
	assert.Equal(t, "from-flag", p.SDKKey)

	p, name, err = ResolveProfile("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "env", name)
	assert.Equal(t, "from-env", p.SDKKey)
	assert.Equal(t, "https://env.example.com", p.BaseURL)

	t.Setenv("FLAGSHIP_SDK_KEY", "")
	_, _, err = ResolveProfile("staging", "", "")
	assert.ErrorContains(t, err, "profile 'staging' not found")
}

// ---- output ----

func sampleRows() []Row {
	return []Row{
		RowFromDetails(engine.Details{Key: "enabled", Value: true, VariationID: "v1", Reason: engine.ReasonTargetingMatch}),
		RowFromDetails(engine.Details{Key: "ratio", Value: 0.5, Reason: engine.ReasonDefault}),
	}
}

func TestPrintRows_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRows(&buf, sampleRows(), FormatJSON))

	var out struct {
		Flags []Row `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Flags, 2)
	assert.Equal(t, "enabled", out.Flags[0].Key)
	assert.Equal(t, "TARGETING_MATCH", out.Flags[0].Reason)
}

func TestPrintRows_YAMLAndTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRows(&buf, sampleRows(), FormatYAML))
	assert.Contains(t, buf.String(), "key: enabled")
	assert.Contains(t, buf.String(), "variation_id: v1")

	buf.Reset()
	require.NoError(t, PrintRows(&buf, sampleRows(), FormatTable))
	table := strings.ToUpper(buf.String())
	assert.Contains(t, table, "KEY")
	assert.Contains(t, table, "ENABLED")
	assert.Contains(t, table, "0.5")
}

func TestPrint_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, PrintRows(&buf, nil, "xml"))
	assert.Error(t, PrintRow(&buf, Row{}, "xml"))
	assert.Error(t, PrintKeys(&buf, nil, "xml"))
}

func TestPrintKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintKeys(&buf, []string{"a", "b"}, FormatTable))
	assert.Equal(t, "a\nb\n", buf.String())

	buf.Reset()
	require.NoError(t, PrintKeys(&buf, []string{"a"}, FormatJSON))
	assert.JSONEq(t, `{"keys":["a"]}`, buf.String())
}
