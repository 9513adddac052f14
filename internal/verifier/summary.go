package verifier

// This file holds logic to prepare visual summaries of a run: which
// collections passed, how much was read, and which documents failed.

import (
	"fmt"
	"strings"

	"github.com/mongodb-labs/digest-verifier/internal/reportutils"
	"github.com/mongodb-labs/digest-verifier/internal/types"
	"github.com/olekukonko/tablewriter"
)

// NOTE: Each of the following should print one trailing and one final
// newline.

func (verifier *Verifier) summary() string {
	results := verifier.Results()

	strBuilder := &strings.Builder{}
	strBuilder.WriteString("\n")

	if len(results) == 0 {
		strBuilder.WriteString("No collections were verified.\n")
		return strBuilder.String()
	}

	verifier.reportCollections(strBuilder, results)
	verifier.reportMismatches(strBuilder, results)
	reportTotals(strBuilder, results)

	return strBuilder.String()
}

func (verifier *Verifier) reportCollections(strBuilder *strings.Builder, results []CollectionResult) {
	table := tablewriter.NewWriter(strBuilder)
	table.SetHeader([]string{"Namespace", "Result", "Docs", "Units", "Mismatches", "Elapsed", "Rate"})

	for _, res := range results {
		verdict := "PASS"
		switch {
		case res.Err != nil:
			verdict = "ERROR: " + res.Err.Error()
		case !res.Passed:
			verdict = "DIFF"
		}

		table.Append([]string{
			res.Namespace,
			verdict,
			fmt.Sprintf("%s/%s", reportutils.FmtCount(res.Processed), reportutils.FmtCount(res.Total)),
			reportutils.FmtCount(res.Units),
			reportutils.FmtCount(res.Mismatches),
			reportutils.DurationToHMS(res.Elapsed),
			reportutils.FmtRate(res.Processed, res.Elapsed),
		})
	}

	strBuilder.WriteString("Collections verified:\n")
	table.Render()
}

func (verifier *Verifier) reportMismatches(strBuilder *strings.Builder, results []CollectionResult) {
	var total uint64
	var samples []Mismatch

	for _, res := range results {
		total += res.Mismatches
		samples = append(samples, res.Samples...)
	}

	if total == 0 {
		return
	}

	limit := types.ToNumericTypeOf(verifier.cfg.FailureDisplaySize, total)

	table := tablewriter.NewWriter(strBuilder)
	table.SetHeader([]string{"ID", "Namespace", "Kind", "Unit"})

	shown := 0
	for _, m := range samples {
		if uint64(shown) >= limit {
			break
		}

		table.Append([]string{m.ID, m.Namespace, string(m.Kind), fmt.Sprintf("%d", m.Unit)})
		shown++
	}

	strBuilder.WriteString("\nMismatched documents:\n")
	table.Render()

	if total > uint64(shown) {
		strBuilder.WriteString(fmt.Sprintf(
			"Only the first %d of %s mismatches are shown; see the error log for the rest.\n",
			shown,
			reportutils.FmtCount(total),
		))
	}
}

func reportTotals(strBuilder *strings.Builder, results []CollectionResult) {
	var docs types.DocumentCount
	var bytes uint64
	passed := 0

	for _, res := range results {
		docs += res.Processed
		bytes += res.Bytes
		if res.Passed {
			passed++
		}
	}

	strBuilder.WriteString("\n")
	strBuilder.WriteString(fmt.Sprintf(
		"Collections passed: %d of %d (%s%%)\n",
		passed,
		len(results),
		reportutils.FmtPercent(passed, len(results)),
	))
	strBuilder.WriteString(fmt.Sprintf(
		"Documents processed: %s (%s read)\n",
		reportutils.FmtCount(docs),
		reportutils.FmtBytes(bytes),
	))
}
