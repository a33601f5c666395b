package gitbackend

import (
	"fmt"
	"strings"
	"time"

	"github.com/temirov/carbon/internal/change"
)

const (
	logRecordSeparatorConstant = "\x1e"
	logFieldSeparatorConstant  = "\x00"
	logFormatArgumentConstant  = "--format=%x1e%H%x00%an%x00%ae%x00%aI%x00%B%x00"
	logFieldCountConstant      = 6
	logRecordErrorTemplate     = "unexpected git log record %q"
	logTimestampErrorTemplate  = "invalid commit timestamp %q: %w"
	nameStatusErrorTemplate    = "unexpected git diff entry %q"
	nameStatusDeletedConstant  = "D"
	lineSeparatorConstant      = "\n"
)

// parseLog decodes git log output produced with logFormatArgumentConstant and --name-only.
func parseLog(output string) (change.Sequence, error) {
	var sequence change.Sequence
	for _, record := range strings.Split(output, logRecordSeparatorConstant) {
		if len(strings.TrimSpace(record)) == 0 {
			continue
		}
		fields := strings.SplitN(record, logFieldSeparatorConstant, logFieldCountConstant)
		if len(fields) != logFieldCountConstant {
			return nil, fmt.Errorf(logRecordErrorTemplate, record)
		}
		timestamp, timestampError := time.Parse(time.RFC3339, strings.TrimSpace(fields[3]))
		if timestampError != nil {
			return nil, fmt.Errorf(logTimestampErrorTemplate, fields[3], timestampError)
		}
		sequence = append(sequence, change.Change{
			Reference:     strings.TrimSpace(fields[0]),
			Author:        change.Author{Name: fields[1], Email: fields[2]},
			Timestamp:     timestamp,
			Message:       strings.TrimRight(fields[4], lineSeparatorConstant),
			AffectedPaths: nonEmptyLines(fields[5]),
		})
	}
	return sequence, nil
}

func nonEmptyLines(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, lineSeparatorConstant) {
		if trimmed := strings.TrimSpace(line); len(trimmed) > 0 {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// treeDelta lists the paths a diff between two commits touches.
type treeDelta struct {
	updated []string
	deleted []string
}

// parseNameStatus decodes `git diff --name-status --no-renames -z` output.
func parseNameStatus(output string) (treeDelta, error) {
	var delta treeDelta
	fields := strings.Split(strings.TrimSuffix(output, logFieldSeparatorConstant), logFieldSeparatorConstant)
	if len(fields) == 1 && len(fields[0]) == 0 {
		return delta, nil
	}
	if len(fields)%2 != 0 {
		return treeDelta{}, fmt.Errorf(nameStatusErrorTemplate, output)
	}
	for fieldIndex := 0; fieldIndex < len(fields); fieldIndex += 2 {
		status, changedPath := fields[fieldIndex], fields[fieldIndex+1]
		if len(status) == 0 || len(changedPath) == 0 {
			return treeDelta{}, fmt.Errorf(nameStatusErrorTemplate, output)
		}
		if status == nameStatusDeletedConstant {
			delta.deleted = append(delta.deleted, changedPath)
			continue
		}
		delta.updated = append(delta.updated, changedPath)
	}
	return delta, nil
}
