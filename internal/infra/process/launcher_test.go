package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMirrorStderrTruncatesOversizedLines(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	oversized := strings.Repeat("a", maxStderrLineLength+500)
	pastBuffer := strings.Repeat("b", 3*maxStderrLineLength)
	input := oversized + "\n" + pastBuffer + "\nshort\n"

	mirrorStderr(strings.NewReader(input), logger)

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Len(t, entries[0].Message, maxStderrLineLength+len("... [truncated]"))
	require.True(t, strings.HasSuffix(entries[0].Message, "... [truncated]"))
	require.True(t, strings.HasSuffix(entries[1].Message, "... [truncated]"),
		"a line longer than the buffer still yields one truncated entry")
	require.Equal(t, "short", entries[2].Message)
}

func TestMirrorStderrSkipsBlankLines(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	mirrorStderr(strings.NewReader("first\n\n\r\nsecond\n"), logger)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Message)
	require.Equal(t, "second", entries[1].Message)
}

func TestFormatEnvSortedAndCasePreserved(t *testing.T) {
	env := formatEnv(map[string]string{
		"RUST_LOG": "debug",
		"A_FIRST":  "1",
		"ZZ":       "2",
	})

	require.Equal(t, []string{"A_FIRST=1", "RUST_LOG=debug", "ZZ=2"}, env)
	require.Nil(t, formatEnv(nil))
}
