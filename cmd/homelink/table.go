package main

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/mattn/go-runewidth"
)

var (
	attemptHeaders = []string{"WHEN", "ENDPOINT", "#", "OUTCOME", "CLASS", "MS", "ERROR"}
	eventHeaders   = []string{"WHEN", "KIND", "ENDPOINT", "ATTEMPT", "CLASS", "ERROR"}
)

const maxErrorWidth = 60

func attemptRows(records []journal.AttemptRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.AttemptedAt.Local().Format(time.DateTime),
			r.Endpoint,
			strconv.Itoa(r.Index),
			r.Outcome,
			r.ErrorClass,
			strconv.FormatInt(r.DurationMs, 10),
			runewidth.Truncate(r.ErrorMessage, maxErrorWidth, "..."),
		})
	}
	return rows
}

func eventRows(records []journal.EventRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		attempt := ""
		if r.Attempt > 0 {
			attempt = strconv.Itoa(r.Attempt)
		}
		rows = append(rows, []string{
			r.OccurredAt.Local().Format(time.DateTime),
			r.Kind,
			r.Endpoint,
			attempt,
			r.ErrorClass,
			runewidth.Truncate(r.ErrorMessage, maxErrorWidth, "..."),
		})
	}
	return rows
}

// renderTable builds an ASCII table padded by display width.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i := range headers {
			if i < len(r) {
				if w := runewidth.StringWidth(r[i]); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var b bytes.Buffer
	sep := func() {
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w+2))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}
	line := func(cells []string) {
		b.WriteString("|")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" ")
			b.WriteString(runewidth.FillRight(cell, w))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	sep()
	line(headers)
	sep()
	for _, r := range rows {
		line(r)
	}
	if len(rows) > 0 {
		sep()
	}
	return b.String()
}
