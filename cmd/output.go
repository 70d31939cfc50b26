package cmd

import (
	"fmt"
	"io"
	"os"
)

// ── Unified output helpers ────────────────────────────────────────────────────
// Human-facing output goes through these so every command shares the same
// icons and indentation. Structured logs go to stderr through zerolog.
//
// Icon semantics:
//   ✓  success / healthy
//   ✗  error / failure          (written to stderr)
//   ⚠  warning
//   ○  skipped / not applicable
//   ~  neutral info

// printSection prints a top-level section header, e.g. "=== shoesnap index ===".
func printSection(title string) {
	fmt.Printf("\n=== %s ===\n", title)
}

// printBullet prints a grouped-section bullet, e.g. "● Skipped (2):".
func printBullet(title string) {
	fmt.Printf("\n● %s\n", title)
}

// printLine writes "  <icon>  msg", or "  <icon>  [name] msg" when name is set.
func printLine(w io.Writer, icon, name, msg string) {
	if name != "" {
		msg = "[" + name + "] " + msg
	}
	fmt.Fprintf(w, "  %s  %s\n", icon, msg)
}

func printOK(name, msg string)   { printLine(os.Stdout, "✓", name, msg) }
func printErr(name, msg string)  { printLine(os.Stderr, "✗", name, msg) }
func printWarn(name, msg string) { printLine(os.Stdout, "⚠", name, msg) }
func printSkip(name, msg string) { printLine(os.Stdout, "○", name, msg) }
func printInfo(name, msg string) { printLine(os.Stdout, "~", name, msg) }

// printKV prints an aligned key/value line under a section.
func printKV(key string, value any) {
	fmt.Printf("  %-18s %v\n", key+":", value)
}
