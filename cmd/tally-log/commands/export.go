package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/milux/ATEM-Tally/pkg/log"
	"gopkg.in/yaml.v3"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string, opts FilterOptions) error {
	filter, err := opts.Build()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return export(reader, format, w)
}

func export(reader *log.Reader, format string, w io.Writer) error {
	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	case "yaml":
		return exportYAML(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv, yaml)", format)
	}
}

// eachEvent calls fn for every event until the end of the file.
func eachEvent(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return eachEvent(reader, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

// exportYAML writes one YAML document per event.
func exportYAML(reader *log.Reader, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return eachEvent(reader, func(event log.Event) error {
		if err := encoder.Encode(record(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "remote", "direction", "layer", "category", "type", "input", "state", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return eachEvent(reader, func(event log.Event) error {
		r := record(event)
		row := []string{
			r.Timestamp,
			r.ConnectionID,
			r.Remote,
			r.Direction,
			r.Layer,
			r.Category,
			r.Type,
			"",
			r.State,
			r.Detail,
		}
		if r.Input != nil {
			row[7] = strconv.Itoa(*r.Input)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}

// exportRecord is the flat, textual form of an event.
type exportRecord struct {
	Timestamp    string `yaml:"timestamp"`
	ConnectionID string `yaml:"connection_id,omitempty"`
	Remote       string `yaml:"remote,omitempty"`
	Direction    string `yaml:"direction"`
	Layer        string `yaml:"layer"`
	Category     string `yaml:"category"`
	Type         string `yaml:"type"`
	Input        *int   `yaml:"input,omitempty"`
	Inputs       []int  `yaml:"inputs,omitempty,flow"`
	State        string `yaml:"state,omitempty"`
	Detail       string `yaml:"detail,omitempty"`
}

func record(event log.Event) exportRecord {
	r := exportRecord{
		Timestamp:    event.Timestamp.UTC().Format(timestampLayout),
		ConnectionID: event.ConnectionID,
		Remote:       event.RemoteAddr,
		Direction:    event.Direction.String(),
		Layer:        event.Layer.String(),
		Category:     event.Category.String(),
		Type:         typeLabel(event),
	}

	switch {
	case event.Handshake != nil:
		r.Inputs = event.Handshake.Inputs
		r.Detail = event.Handshake.Format.String()
	case event.Update != nil:
		input := event.Update.Input
		r.Input = &input
		r.State = event.Update.State.String()
	case event.KeepAlive != nil:
		r.Detail = fmt.Sprintf("%d bytes", event.KeepAlive.Size)
		if event.KeepAlive.Echoed {
			r.Detail += " echoed"
		}
	case event.StateChange != nil:
		sc := event.StateChange
		if sc.Entity == log.StateEntityInput {
			input := sc.Input
			r.Input = &input
		}
		r.State = sc.NewState
		r.Detail = sc.Entity.String()
		if sc.Reason != "" {
			r.Detail += ": " + sc.Reason
		}
	case event.Error != nil:
		r.Detail = event.Error.Message
		if event.Error.Context != "" {
			r.Detail = event.Error.Context + ": " + r.Detail
		}
	}
	return r
}
