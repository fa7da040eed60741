package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/rules"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Row is the printable form of an evaluation.
type Row struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	VariationID string `json:"variationId,omitempty" yaml:"variation_id,omitempty"`
	Reason      string `json:"reason" yaml:"reason"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RowFromDetails converts evaluation details for printing
func RowFromDetails(d engine.Details) Row {
	return Row{
		Key:         d.Key,
		Value:       d.Value,
		VariationID: d.VariationID,
		Reason:      string(d.Reason),
		Error:       d.ErrorMessage,
	}
}

// PrintRows outputs evaluations in the specified format
func PrintRows(w io.Writer, rows []Row, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]Row{"flags": rows})
	case FormatYAML:
		return printYAML(w, rows)
	case FormatTable:
		return printTable(w, rows)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintRow outputs a single evaluation in the specified format
func PrintRow(w io.Writer, row Row, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, row)
	case FormatYAML:
		return printYAML(w, row)
	case FormatTable:
		return printTable(w, []Row{row})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintKeys outputs setting keys, one per line for the table format
func PrintKeys(w io.Writer, keys []string, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]string{"keys": keys})
	case FormatYAML:
		return printYAML(w, keys)
	case FormatTable:
		for _, k := range keys {
			if _, err := fmt.Fprintln(w, k); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printTable(w io.Writer, rows []Row) error {
	table := tablewriter.NewWriter(w)
	table.Header("Key", "Value", "Variation", "Reason", "Error")

	for _, row := range rows {
		msg := row.Error
		if len(msg) > 40 {
			msg = msg[:37] + "..."
		}
		if err := table.Append(row.Key, rules.FormatValue(row.Value), row.VariationID, row.Reason, msg); err != nil {
			return err
		}
	}

	return table.Render()
}
