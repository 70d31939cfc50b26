package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintLine(t *testing.T) {
	var buf bytes.Buffer
	printLine(&buf, "✓", "", "done")
	printLine(&buf, "⚠", "boot.jpg", "kept")
	assert.Equal(t, "  ✓  done\n  ⚠  [boot.jpg] kept\n", buf.String())
}

func TestFindConflictFiles(t *testing.T) {
	files := []string{"/g/a.jpg", "/g/a.conflict-returns.jpg", "/g/b.png"}
	assert.Equal(t, []string{"/g/a.conflict-returns.jpg"}, findConflictFiles(files))
	assert.Nil(t, findConflictFiles(nil))
}
