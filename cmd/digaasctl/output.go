package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/digaas/pkg/client"
	"gopkg.in/yaml.v3"
)

// encode writes v as JSON or YAML. It reports false for text output.
func encode(w io.Writer, v any) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so YAML keys match the wire names.
		b, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

func printObserver(w io.Writer, o *client.Observer) error {
	if done, err := encode(w, o); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", o.ID)
	fmt.Fprintf(tw, "NAME\t%s\n", o.TargetName)
	fmt.Fprintf(tw, "NAMESERVER\t%s\n", o.Nameserver)
	if o.Type != "" {
		fmt.Fprintf(tw, "TYPE\t%s\n", o.Type)
	}
	fmt.Fprintf(tw, "CONDITION\t%s\n", o.Condition)
	fmt.Fprintf(tw, "STATUS\t%s\n", o.Status)
	if o.Duration != nil {
		fmt.Fprintf(tw, "DURATION\t%s\n", o.Duration.Duration().Round(time.Millisecond))
	}
	if o.ErrorMessage != nil {
		fmt.Fprintf(tw, "ERROR\t%s\n", *o.ErrorMessage)
	}
	return tw.Flush()
}

func printStats(w io.Writer, st *client.Stats) error {
	if done, err := encode(w, st); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", st.ID)
	fmt.Fprintf(tw, "RANGE\t%s .. %s\n", st.Start.Format(time.RFC3339), st.End.Format(time.RFC3339))
	fmt.Fprintf(tw, "STATUS\t%s\n", st.Status)
	if st.ErrorMessage != nil {
		fmt.Fprintf(tw, "ERROR\t%s\n", *st.ErrorMessage)
	}
	return tw.Flush()
}

var summaryViews = []string{"observers_by_type", "observers_by_nameserver", "queries"}

func printSummaries(w io.Writer, sums client.Summaries) error {
	if done, err := encode(w, sums); done {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VIEW\tKEY\tOK\tERR\tAVG\tMEDIAN\tP90\tP99\tMAX")
	for _, view := range summaryViews {
		byKey := sums[view]
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := byKey[k]
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
				view, k, s.SuccessCount, s.ErrorCount,
				num(s.Average), num(s.Median), num(s.Per90), num(s.Per99), num(s.Max))
		}
	}
	return tw.Flush()
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
