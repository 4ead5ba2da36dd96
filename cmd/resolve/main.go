// Command resolve applies a detection-limit method to a CSV table of
// observations without contacting a Hilltop server. Group diagnostics are
// printed to stderr; the resolved table is written to stdout.
//
// Usage:
//
//	go run ./cmd/resolve -method trend -in observations.csv > resolved.csv
//
// Input columns are site,measurement,parameter,time,value. Output adds
// censor_code and dtl_ratio.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
)

var (
	inputHeader  = []string{"site", "measurement", "parameter", "time", "value"}
	outputHeader = []string{"site", "measurement", "parameter", "time", "value", "censor_code", "dtl_ratio"}
	timeLayouts  = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

func main() {
	method := flag.String("method", "none", "detection limit method: none, half (standard) or trend")
	in := flag.String("in", "", "input CSV path (default stdin)")
	strictGT := flag.Bool("reject-greater-than", false, "drop greater-than values under the trend method")
	flag.Parse()

	m, err := domain.ParseMethod(*method)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(2)
	}

	r := os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: open input: %v\n", err)
			os.Exit(1)
		}
		r = f
	}

	code := run(r, os.Stdout, os.Stderr, domain.Resolver{Method: m, RejectGreaterThan: *strictGT})
	_ = r.Close()
	os.Exit(code)
}

// run reads observations from r, resolves them and writes the table to out.
// Returns a process exit code.
func run(r io.Reader, out, diag io.Writer, resolver domain.Resolver) int {
	observations, skipped, err := readObservations(r)
	if err != nil {
		fmt.Fprintf(diag, "FATAL: read input: %v\n", err)
		return 1
	}
	for _, s := range skipped {
		fmt.Fprintf(diag, "skipped %s\n", s)
	}

	result := resolver.Resolve(observations)
	if err := writeResolved(out, result.Observations); err != nil {
		fmt.Fprintf(diag, "FATAL: write output: %v\n", err)
		return 1
	}
	reportGroups(diag, result)
	return 0
}

// readObservations parses the input table. Rows with a bad time are skipped
// and described in the second return value.
func readObservations(r io.Reader) ([]domain.Observation, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(inputHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	for i, h := range inputHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), h) {
			return nil, nil, fmt.Errorf("header column %d is %q, want %q", i+1, header[i], h)
		}
	}

	var (
		observations []domain.Observation
		skipped      []string
	)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		t, err := parseTime(row[3])
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		observations = append(observations, domain.Observation{
			Key:  domain.GroupKey{Site: row[0], Measurement: row[1], Parameter: row[2]},
			Time: t,
			Raw:  row[4],
		})
	}
	return observations, skipped, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func writeResolved(w io.Writer, rows []domain.ResolvedObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(outputHeader); err != nil {
		return err
	}
	for _, o := range rows {
		ratio := ""
		if o.DTLRatio != nil {
			ratio = strconv.FormatFloat(*o.DTLRatio, 'f', -1, 64)
		}
		if err := cw.Write([]string{
			o.Key.Site,
			o.Key.Measurement,
			o.Key.Parameter,
			o.Time.Format(time.RFC3339),
			strconv.FormatFloat(o.Value, 'f', -1, 64),
			string(o.CensorCode),
			ratio,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// reportGroups prints one line per group followed by every diagnostic.
func reportGroups(w io.Writer, result domain.Result) {
	keys := make([]domain.GroupKey, 0, len(result.Groups))
	for k := range result.Groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	for _, k := range keys {
		s := result.Groups[k]
		note := ""
		if s.HeavilyCensored {
			note = " HEAVILY CENSORED"
		}
		fmt.Fprintf(w, "%s: %d rows, %d censored (%d limits), ratio %.2f, clamped %t%s\n",
			k, s.TotalCount, s.CensoredCount, s.DistinctCensoredValues, s.CensoredRatio, s.Clamped, note)
	}
	for i, e := range result.Errors {
		fmt.Fprintf(w, "  [%d] %s: %v\n", i+1, e.Kind, e)
	}
}
