// Package render writes command results to stdout, either as structured
// JSON or YAML documents or as coloured text tables.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v2"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type Printer struct {
	Out    io.Writer
	Format string
}

func New(out io.Writer, format string) *Printer {
	return &Printer{Out: out, Format: format}
}

// SetColorMode toggles ANSI colours for tables.
func SetColorMode(flag bool) {
	color.NoColor = !flag
}

// Structured reports whether the printer writes documents instead of text.
func (p *Printer) Structured() bool {
	return p.Format == FormatJSON || p.Format == FormatYAML
}

// Document writes v as JSON or YAML. It is a no-op for text output.
func (p *Printer) Document(v any) error {
	switch p.Format {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(p.Out, string(b))
		return err
	case FormatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = p.Out.Write(b)
		return err
	}
	return nil
}

// Cell is a table cell with an optional colour.
type Cell struct {
	Text  string
	color *color.Color
}

func Plain(text string) Cell {
	return Cell{Text: text}
}

func Good(text string) Cell {
	return Cell{Text: text, color: color.New(color.FgGreen)}
}

func Bad(text string) Cell {
	return Cell{Text: text, color: color.New(color.FgRed)}
}

func Warn(text string) Cell {
	return Cell{Text: text, color: color.New(color.FgYellow)}
}

// Table is a simple left-aligned text table.
type Table struct {
	Headers []string
	rows    [][]Cell
}

func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

func (t *Table) AddRow(cells ...Cell) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Len() int {
	return len(t.rows)
}

// Table writes t when the output is text.
func (p *Printer) Table(t *Table) error {
	if p.Structured() {
		return nil
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell.Text) > widths[i] {
				widths[i] = len(cell.Text)
			}
		}
	}

	header := color.New(color.FgCyan)
	var line strings.Builder
	for i, h := range t.Headers {
		line.WriteString(pad(h, widths[i], i == len(widths)-1))
	}
	if _, err := header.Fprintln(p.Out, line.String()); err != nil {
		return err
	}
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	if _, err := header.Fprintln(p.Out, strings.Repeat("─", max(total-2, 0))); err != nil {
		return err
	}

	for _, row := range t.rows {
		line.Reset()
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			text := pad(cell.Text, widths[i], i == len(widths)-1)
			if cell.color != nil {
				text = cell.color.Sprint(text)
			}
			line.WriteString(text)
		}
		if _, err := fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}

// KeyValues writes aligned key/value pairs when the output is text.
func (p *Printer) KeyValues(pairs [][2]string) error {
	if p.Structured() {
		return nil
	}
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	key := color.New(color.Bold)
	for _, kv := range pairs {
		if _, err := fmt.Fprintf(p.Out, "%s %s\n", key.Sprint(pad(kv[0]+":", width+1, false)), kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	return s + strings.Repeat(" ", width-len(s)+2)
}
