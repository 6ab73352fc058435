package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := GetRootCmd()
	require.NotNil(t, root)

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"index", "search", "status", "add", "context", "remember", "serve"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, version, GetVersion())
	assert.NotEmpty(t, GetVersion())
}

func TestSnippetTruncatesLongContent(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	short := snippet(long)
	assert.LessOrEqual(t, len(short), 163)
	assert.Contains(t, short, "...")

	assert.Equal(t, "tidy words only", snippet("  tidy\n words   only "))
}
