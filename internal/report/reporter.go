// Package report sends the per-run delivery summary to operators.
package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"postbell/internal/dispatch"
	"postbell/internal/email"
	"postbell/internal/models"
)

// Summary is the aggregate outcome of one dispatch run.
type Summary struct {
	RunID    string
	Item     models.ContentItem
	Success  int
	Failure  int
	Total    int
	Skipped  int
	Failures []dispatch.RecipientError
}

// FromResult builds a Summary for item from a dispatch result.
func FromResult(runID string, item models.ContentItem, res dispatch.Result) Summary {
	return Summary{
		RunID:    runID,
		Item:     item,
		Success:  res.SuccessCount,
		Failure:  res.FailureCount,
		Total:    res.Total,
		Skipped:  res.Skipped,
		Failures: res.Errors,
	}
}

type Reporter struct {
	transport email.Transport
	operators []string
	log       *zap.Logger
	timeout   time.Duration
	tmpl      *template.Template
}

func NewReporter(t email.Transport, operators []string, log *zap.Logger, timeout time.Duration) *Reporter {
	var ops []string
	for _, op := range operators {
		if op = strings.TrimSpace(op); op != "" {
			ops = append(ops, op)
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reporter{
		transport: t,
		operators: ops,
		log:       log,
		timeout:   timeout,
		tmpl:      template.Must(template.New("summary").Parse(summaryTemplate)),
	}
}

// Report sends one summary message to all operators. Failures are logged
// only; with no operators configured it does nothing.
func (r *Reporter) Report(ctx context.Context, s Summary) {
	if len(r.operators) == 0 {
		r.log.Debug("no operator addresses configured, skipping summary", zap.String("run_id", s.RunID))
		return
	}

	var body bytes.Buffer
	if err := r.tmpl.Execute(&body, s); err != nil {
		r.log.Error("failed to render dispatch summary", zap.String("run_id", s.RunID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := r.transport.Send(ctx, email.Message{
		To:      r.operators,
		Subject: fmt.Sprintf("Notification summary: %s (%d/%d sent)", s.Item.Title, s.Success, s.Total),
		HTML:    body.String(),
	})
	if err != nil {
		r.log.Error("failed to send dispatch summary",
			zap.String("run_id", s.RunID),
			zap.String("content_id", s.Item.ID),
			zap.Error(err),
		)
		return
	}

	r.log.Info("dispatch summary sent",
		zap.String("run_id", s.RunID),
		zap.Strings("operators", r.operators),
	)
}

const summaryTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>Notification run for "{{.Item.Title}}"</h2>
<table>
<tr><td>Content</td><td>{{.Item.ID}}</td></tr>
<tr><td>Run</td><td>{{.RunID}}</td></tr>
<tr><td>Recipients</td><td>{{.Total}}</td></tr>
<tr><td>Sent</td><td>{{.Success}}</td></tr>
<tr><td>Failed</td><td>{{.Failure}}</td></tr>
{{if .Skipped}}<tr><td>Not attempted</td><td>{{.Skipped}}</td></tr>{{end}}
</table>
{{if .Failures}}<h3>Failures</h3>
<ul>
{{range .Failures}}<li>{{.Email}}: {{.Err}}</li>
{{end}}</ul>{{end}}
</body>
</html>
`
