package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/query"
)

// Prompt budgets for handing query results to the answer formatter. The
// stored Result keeps every row; only the rendition sent to the model is
// trimmed.
const (
	maxPromptRows   = 20
	maxPromptFields = 20
	maxPromptChars  = 6000

	truncationMarker = "... [truncated]"
)

// TruncateForPrompt returns a trimmed copy of result plus a notice when
// rows were dropped. The input is never modified.
func TruncateForPrompt(result query.Result) (query.Result, string) {
	trimmed := query.Result{Duration: result.Duration}

	columns := result.Columns
	if len(columns) > maxPromptFields {
		columns = columns[:maxPromptFields]
	}
	trimmed.Columns = append([]string(nil), columns...)

	rows := result.Rows
	notice := ""
	if len(rows) > maxPromptRows {
		rows = rows[:maxPromptRows]
		notice = fmt.Sprintf("Showing %d of %d rows", maxPromptRows, len(result.Rows))
	}
	trimmed.Rows = make([][]any, 0, len(rows))
	for _, row := range rows {
		if len(row) > maxPromptFields {
			row = row[:maxPromptFields]
		}
		trimmed.Rows = append(trimmed.Rows, append([]any(nil), row...))
	}
	return trimmed, notice
}

// RenderResultText serializes a result as a JSON array of row objects,
// preserving column order.
func RenderResultText(result query.Result) string {
	if len(result.Rows) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, row := range result.Rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("{")
		for j, column := range result.Columns {
			if j >= len(row) {
				break
			}
			if j > 0 {
				sb.WriteString(",")
			}
			key, _ := json.Marshal(column)
			sb.Write(key)
			sb.WriteString(":")
			value, err := json.Marshal(row[j])
			if err != nil {
				value, _ = json.Marshal(fmt.Sprint(row[j]))
			}
			sb.Write(value)
		}
		sb.WriteString("}")
	}
	sb.WriteString("]")
	return sb.String()
}

// renderForPrompt applies all three budgets and appends the row notice.
func renderForPrompt(result query.Result) string {
	trimmed, notice := TruncateForPrompt(result)
	text := RenderResultText(trimmed)
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars] + truncationMarker
	}
	if notice != "" {
		text += "\n" + notice
	}
	return text
}
