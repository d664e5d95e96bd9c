package notify

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

const (
	defaultAlertCooldown = 5 * time.Minute
	alertSendTimeout     = 10 * time.Second
)

var alertBody = template.Must(template.New("run_failed").Option("missingkey=error").Parse(
	`Workflow {{.Workflow}} failed for run {{.RunID}}.

Activity: {{.Activity}}
Attempts: {{.Attempts}}
Error kind: {{.Kind}}
Error: {{.Error}}
Failed at: {{.FailedAt}}
{{- if .Suppressed}}

{{.Suppressed}} similar failure(s) were not mailed during the cooldown.
{{- end}}
`))

type alertView struct {
	RunID      string
	Workflow   string
	Activity   string
	Attempts   int
	Kind       string
	Error      string
	FailedAt   string
	Suppressed int
}

// AlertOption configures a RunFailureAlerter.
type AlertOption func(*RunFailureAlerter)

// WithAlertCooldown sets the minimum gap between two alerts for the same
// workflow and error kind.
func WithAlertCooldown(d time.Duration) AlertOption {
	return func(a *RunFailureAlerter) {
		if d >= 0 {
			a.cooldown = d
		}
	}
}

// RunFailureAlerter mails operators when a reply run fails terminally.
// Failures of the same workflow and error kind within the cooldown are
// counted and reported with the next alert.
type RunFailureAlerter struct {
	sender   EmailSender
	to       string
	cooldown time.Duration
	logger   *logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastSent   map[string]time.Time
	suppressed map[string]int
}

func NewRunFailureAlerter(sender EmailSender, to string, logger *logging.Logger, opts ...AlertOption) *RunFailureAlerter {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &RunFailureAlerter{
		sender:     sender,
		to:         to,
		cooldown:   defaultAlertCooldown,
		logger:     logger,
		now:        time.Now,
		lastSent:   make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnRunFailed implements durable.FailureHandler.
func (a *RunFailureAlerter) OnRunFailed(ctx context.Context, rec durable.RunRecord, runErr error) {
	kind := durable.ErrorKind(runErr)
	if kind == "" {
		kind = "Unknown"
	}
	key := rec.Workflow + "/" + kind

	suppressed, ok := a.admit(key)
	if !ok {
		a.logger.Debug("run failure alert suppressed", "run_id", rec.RunID, "kind", kind)
		return
	}

	errText := rec.ErrorMessage
	if runErr != nil {
		errText = runErr.Error()
	}
	var body bytes.Buffer
	if err := alertBody.Execute(&body, alertView{
		RunID:      rec.RunID,
		Workflow:   rec.Workflow,
		Activity:   rec.ActivityName,
		Attempts:   rec.Attempts,
		Kind:       kind,
		Error:      errText,
		FailedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339),
		Suppressed: suppressed,
	}); err != nil {
		a.logger.Error("failed to render run failure alert", "error", err, "run_id", rec.RunID)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertSendTimeout)
	defer cancel()
	err := a.sender.Send(sendCtx, EmailMessage{
		To:      a.to,
		Subject: fmt.Sprintf("[pingu-bot] %s failed (%s)", rec.Workflow, kind),
		Body:    body.String(),
	})
	if err != nil {
		a.logger.Error("failed to send run failure alert", "error", err, "run_id", rec.RunID)
	}
}

func (a *RunFailureAlerter) admit(key string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.cooldown {
		a.suppressed[key]++
		return 0, false
	}
	a.lastSent[key] = now
	count := a.suppressed[key]
	delete(a.suppressed, key)
	return count, true
}

var _ durable.FailureHandler = (*RunFailureAlerter)(nil)
