package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"postbell/internal/models"
)

// PrefPrefix marks a preference column, e.g. "pref:blog_posts".
const PrefPrefix = "pref:"

// DefaultMaxRows caps how many data rows one import reads.
const DefaultMaxRows = 10000

// SkippedRow describes a data row that was not imported.
type SkippedRow struct {
	Line   int
	Reason string
}

// ParseRecipients reads subscribers from a CSV with a header row. The header
// must contain an "Email" column (case-insensitive). A "Name" column and any
// number of "pref:<category>" columns are optional; an empty preference cell
// leaves that category at its default.
//
// Rows with a missing address, a wrong column count or an unreadable
// preference value are reported in the skipped list instead of failing the
// whole import.
func ParseRecipients(r io.Reader, maxRows int) ([]models.Recipient, []SkippedRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv is empty")
		}
		return nil, nil, err
	}

	emailIdx, nameIdx := -1, -1
	prefs := make(map[int]models.NotificationType)
	for i, h := range headers {
		h = strings.TrimSpace(h)
		switch {
		case strings.EqualFold(h, "email"):
			emailIdx = i
		case strings.EqualFold(h, "name"):
			nameIdx = i
		case len(h) > len(PrefPrefix) && strings.EqualFold(h[:len(PrefPrefix)], PrefPrefix):
			prefs[i] = models.NotificationType(strings.TrimSpace(h[len(PrefPrefix):]))
		}
	}
	if emailIdx == -1 {
		return nil, nil, errors.New("csv must contain an Email column")
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var (
		out     []models.Recipient
		skipped []SkippedRow
		seen    = make(map[string]struct{})
	)
	for line := 2; len(out) < maxRows; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) != len(headers) {
			skipped = append(skipped, SkippedRow{Line: line, Reason: "wrong number of columns"})
			continue
		}

		addr := strings.ToLower(strings.TrimSpace(record[emailIdx]))
		if addr == "" {
			skipped = append(skipped, SkippedRow{Line: line, Reason: "missing email"})
			continue
		}
		if _, dup := seen[addr]; dup {
			skipped = append(skipped, SkippedRow{Line: line, Reason: "duplicate email"})
			continue
		}

		rcpt := models.Recipient{Email: addr, Status: models.RecipientActive}
		if nameIdx >= 0 {
			rcpt.Name = strings.TrimSpace(record[nameIdx])
		}

		bad := ""
		for i, category := range prefs {
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			v, ok := parseFlag(cell)
			if !ok {
				bad = fmt.Sprintf("invalid value %q for %s%s", cell, PrefPrefix, category)
				break
			}
			if rcpt.Preferences == nil {
				rcpt.Preferences = make(map[models.NotificationType]bool, len(prefs))
			}
			rcpt.Preferences[category] = v
		}
		if bad != "" {
			skipped = append(skipped, SkippedRow{Line: line, Reason: bad})
			continue
		}

		seen[addr] = struct{}{}
		out = append(out, rcpt)
	}

	return out, skipped, nil
}

func parseFlag(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}
