package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableEmpty(t *testing.T) {
	tbl := NewTable("Functions", "name", "status")
	assert.Empty(t, tbl.View(DefaultStyles()))
}

func TestTableAlignsColumns(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	tbl := NewTable("Functions", "name", "uses")
	tbl.AddRow("abrir_aplicacion", "12")
	tbl.AddRow("hora", "3")

	out := tbl.View(DefaultStyles())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Functions", lines[0])
	assert.Contains(t, lines[1], "name")
	assert.Contains(t, lines[3], "abrir_aplicacion")

	// Every row is padded to the same width.
	width := len(lines[1])
	for _, line := range lines[2:] {
		assert.Equal(t, width, len(line), "line %q", line)
	}
}

func TestTableShortRow(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	tbl := NewTable("", "a", "b")
	tbl.AddRow("only")
	out := tbl.View(DefaultStyles())
	assert.Contains(t, out, "only")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
