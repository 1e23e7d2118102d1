/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/crabsoc/crabd/internal/store"
)

// reportTemplate renders the plain text body of a job report email.
var reportTemplate = template.Must(template.New("report").Parse(
	`Cron job report generated {{.Generated}}

{{range .Jobs}}* {{.Title}} ({{.Host}} / {{.User}})
  Window: {{.WindowStart}} to {{.WindowEnd}}
{{- range .Finishes}}
  {{.Datetime}}  {{.Status}}
{{- end}}
{{- range .Outputs}}
{{.}}
{{- end}}

{{end}}`))

type reportJob struct {
	Title       string
	Host        string
	User        string
	WindowStart string
	WindowEnd   string
	Finishes    []reportFinish
	Outputs     []string
}

type reportFinish struct {
	Datetime string
	Status   string
}

// EmailReporter renders job reports as plain text email and delivers
// them over SMTP.  Sends are rate limited so a burst of due
// notifications cannot flood the relay.
type EmailReporter struct {
	store   *store.Store
	host    string
	from    string
	subject string
	limiter *rate.Limiter
	log     zerolog.Logger

	// send is replaceable for tests.
	send func(addr, from string, to []string, msg []byte) error
}

func NewEmailReporter(st *store.Store, smtpHost, from, subject string) *EmailReporter {
	return &EmailReporter{
		store:   st,
		host:    smtpHost,
		from:    from,
		subject: subject,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		log:     log.With().Str("component", "email").Logger(),
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Report renders one email per recipient skip-profile and sends it to
// the email recipients of the set; other delivery methods are ignored.
func (r *EmailReporter) Report(ctx context.Context, recipients []Recipient, jobs map[int64]Window) error {
	for _, recipient := range recipients {
		if recipient.Method != "email" {
			continue
		}

		body, empty, err := r.render(jobs, recipient)
		if err != nil {
			return err
		}
		if empty {
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
			r.from, recipient.Address, r.subject, body)
		if err := r.send(r.host, r.from, []string{recipient.Address}, []byte(msg)); err != nil {
			return fmt.Errorf("sending report to %s: %w", recipient.Address, err)
		}
		r.log.Info().Str("address", recipient.Address).
			Int("jobs", len(jobs)).Msg("report sent")
	}
	return nil
}

// render builds the report body, honouring the recipient's skip flags.
// empty is true when every job was skipped and no mail should go out.
func (r *EmailReporter) render(jobs map[int64]Window, recipient Recipient) (string, bool, error) {
	ids := make([]int64, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rendered []reportJob
	for _, id := range ids {
		window := jobs[id]
		job, err := r.store.GetJobInfo(id)
		if err != nil {
			return "", false, err
		}
		if job == nil {
			continue
		}

		finishes, err := r.store.GetJobFinishes(id, store.FinishFilter{
			After:  window.Start,
			Before: window.End,
		})
		if err != nil {
			return "", false, err
		}
		if skipJob(finishes, recipient) {
			continue
		}

		rj := reportJob{
			Title:       jobTitle(job),
			Host:        job.Host,
			User:        job.User,
			WindowStart: window.Start.Format(time.RFC1123),
			WindowEnd:   window.End.Format(time.RFC1123),
		}
		for _, finish := range finishes {
			rj.Finishes = append(rj.Finishes, reportFinish{
				Datetime: finish.Datetime.Format(time.RFC1123),
				Status:   finish.Status.String(),
			})
			if recipient.IncludeOutput {
				crabid := ""
				if job.CrabID != nil {
					crabid = *job.CrabID
				}
				stdout, stderr, ok, err := r.store.GetJobOutput(
					finish.ID, job.Host, job.User, id, crabid)
				if err != nil {
					return "", false, err
				}
				if ok {
					rj.Outputs = append(rj.Outputs,
						indent(strings.TrimRight(stdout+stderr, "\n")))
				}
			}
		}
		rendered = append(rendered, rj)
	}

	if len(rendered) == 0 {
		return "", true, nil
	}

	var b strings.Builder
	err := reportTemplate.Execute(&b, map[string]any{
		"Generated": time.Now().UTC().Format(time.RFC1123),
		"Jobs":      rendered,
	})
	return b.String(), false, err
}

// skipJob applies the recipient's class filters to the job's worst
// outcome within the window.
func skipJob(finishes []store.JobFinish, recipient Recipient) bool {
	if len(finishes) == 0 {
		return recipient.SkipOK
	}

	hasError, hasWarning := false, false
	for _, finish := range finishes {
		switch {
		case finish.Status.IsError():
			hasError = true
		case finish.Status.IsWarning():
			hasWarning = true
		}
	}

	switch {
	case hasError:
		return recipient.SkipError
	case hasWarning:
		return recipient.SkipWarning
	}
	return recipient.SkipOK
}

func jobTitle(job *store.Job) string {
	if job.CrabID != nil && *job.CrabID != "" {
		return *job.CrabID
	}
	return job.Command
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}
