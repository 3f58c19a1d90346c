package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

// tablePrinter renders batches as aligned text tables.
type tablePrinter struct {
	mutex sync.Mutex
	out   io.Writer
	now   func() time.Time
}

func (printer *tablePrinter) Render(result models.BatchResult) {
	printer.mutex.Lock()
	defer printer.mutex.Unlock()

	now := printer.now()
	fmt.Fprintf(printer.out, "=== %s (%d ok, %d degraded, %d failed) ===\n",
		result.Batch, result.Succeeded, result.Degraded, result.Failed)

	writer := tabwriter.NewWriter(printer.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "REQUEST\tSTATUS\tSOURCE\tREASON\tAGE")
	for _, slot := range result.Results {
		source, reason := string(slot.Source), string(slot.Reason)
		if source == "" {
			source = "-"
		}
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", slot.Request, slot.Status, source, reason, age(slot, now))
	}
	_ = writer.Flush()
	fmt.Fprintln(printer.out)
}

func age(slot models.ProviderResult, now time.Time) string {
	at := slot.FetchedAt
	if !slot.IsSuccess() {
		at = slot.LastAttempt
	}
	if at.IsZero() {
		return "-"
	}
	return now.Sub(at).Truncate(time.Second).String()
}
