package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusions_Prefixes(t *testing.T) {
	ex, err := NewExclusions([]string{
		"/$ JLR DATA MIGRATION/Archive",
		"/$ JLR DATA MIGRATION/David/Archive",
		"/Archive",
		"  ",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ex.Len())

	tests := []struct {
		path string
		want bool
	}{
		{"/$ jlr data migration/archive", true},
		{"/$ jlr data migration/archive/2019/memo style.pdf", true},
		{"/$ JLR DATA MIGRATION/David/Archive/x.pdf", true},
		{"/archive", true},
		{"/archived/file.pdf", true}, // raw prefix semantics
		{"/$ jlr data migration/david/reports/memo-style.pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ex.Excludes(tt.path))
		})
	}
}

func TestExclusions_Globs(t *testing.T) {
	ex, err := NewExclusions([]string{"**/Archive", "/clients/*/keep/**"})
	require.NoError(t, err)

	assert.True(t, ex.Excludes("/a/b/archive"))
	assert.True(t, ex.Excludes("/a/b/archive/deep/memo-style.pdf"))
	assert.True(t, ex.Excludes("/clients/acme/keep/memo-style.pdf"))
	assert.False(t, ex.Excludes("/clients/acme/drop/memo-style.pdf"))
	assert.False(t, ex.Excludes("/a/b/archives/memo-style.pdf"))
}

func TestExclusions_EscapedLiteral(t *testing.T) {
	ex, err := NewExclusions([]string{`/old\[2019\]`})
	require.NoError(t, err)

	assert.Equal(t, []string{"/old[2019]"}, ex.Rules())
	assert.True(t, ex.Excludes("/old[2019]/memo-style.pdf"))
}

func TestExclusions_WindowsStyle(t *testing.T) {
	ex, err := NewExclusions([]string{`\Archive\**`, `\Reports\*.pdf`, `\$ JLR DATA MIGRATION\David`})
	require.NoError(t, err)

	assert.Equal(t, []string{"/$ jlr data migration/david", "archive/**", "reports/*.pdf"}, ex.Rules())

	tests := []struct {
		path string
		want bool
	}{
		{"/archive/2019/memo-style.pdf", true},
		{"/Archive/memo style.pdf", true},
		{"/reports/memo-style.pdf", true},
		{"/reports/q1/memo-style.pdf", false},
		{"/$ JLR DATA MIGRATION/David/memo style.pdf", true},
		{"/other/memo-style.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ex.Excludes(tt.path))
		})
	}
}

func TestExclusions_InvalidGlob(t *testing.T) {
	_, err := NewExclusions([]string{"/data/[unclosed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestExclusions_Nil(t *testing.T) {
	var ex *Exclusions
	assert.False(t, ex.Excludes("/anything"))
	assert.Zero(t, ex.Len())
	assert.Nil(t, ex.Rules())
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"unchanged", "/archive/**", "/archive/**"},
		{"backslashes converted", `\archive\**`, "/archive/**"},
		{"escape preserved", `/old\[2019\]/**`, `/old\[2019\]/**`},
		{"trailing backslash", `archive\`, "archive/"},
		{"backslash before star", `\archive\*.pdf`, "/archive/*.pdf"},
		{"backslash before question", `\a\?`, "/a/?"},
		{"escaped backslash", `/a\\b`, `/a\\b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePattern(tt.input))
		})
	}
}

func TestIsGlobPattern(t *testing.T) {
	assert.True(t, IsGlobPattern("**/archive"))
	assert.True(t, IsGlobPattern("/a/?"))
	assert.False(t, IsGlobPattern(`/old\[2019\]`))
	assert.False(t, IsGlobPattern("/$ jlr data migration/archive"))
}
