package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// render writes v as json or yaml, or calls plain for the default human format.
func render(opts *globalOptions, v any, plain func(w io.Writer)) error {
	switch opts.output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// round-trip through JSON so yaml keys follow the API's field names
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case "plain", "":
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		plain(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want plain, json or yaml)", opts.output)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
