package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"rulerunner/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return statusKindColors(kind).Sprint(base)
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColors(kind statusKind) text.Colors {
	switch kind {
	case statusOK:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusError:
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgBlue}
	}
}

// itemStatusKind maps an item status to how it is highlighted.
func itemStatusKind(status queue.Status) statusKind {
	switch status {
	case queue.StatusCompleted:
		return statusOK
	case queue.StatusClaimed:
		return statusWarn
	case queue.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

func statusLabel(status queue.Status, colorize bool) string {
	label := titleCaser.String(string(status))
	if colorize {
		return statusKindColors(itemStatusKind(status)).Sprint(label)
	}
	return label
}

// renderProgress draws the five-field tally.
func renderProgress(p queue.Progress, colorize bool) string {
	counts := map[queue.Status]int{
		queue.StatusPending:   p.Pending,
		queue.StatusClaimed:   p.Claimed,
		queue.StatusCompleted: p.Completed,
		queue.StatusFailed:    p.Failed,
	}
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		rows = append(rows, []string{statusLabel(status, colorize), strconv.Itoa(counts[status])})
	}
	return renderTable(
		[]string{"Status", "Items"},
		rows,
		[]string{"Total", strconv.Itoa(p.Total)},
		[]columnAlignment{alignLeft, alignRight},
	)
}

// renderItems lists items with their owner.
func renderItems(items []queue.Item, colorize bool) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(item.ID),
			statusLabel(item.Status, colorize),
			dashIfEmpty(item.WorkerID),
			item.Payload,
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Worker", "Payload"},
		rows,
		nil,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
