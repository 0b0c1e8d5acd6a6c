// Package mail renders notification emails and provides the non-Google notifiers.
package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"eventmailer/internal/models"
)

const subjectDateLayout = "02-01-2006"

var announcementTmpl = template.Must(template.New("announcement").Parse(
	`Hello,

You are registered for "{{.Title}}".

When: {{.When}}
{{- if .Link}}
Join: {{.Link}}
{{- end}}

See you there!
`))

var rosterTmpl = template.Must(template.New("roster").Parse(
	`Attendees for "{{.Title}}" ({{.When}}):

{{if .Attendees -}}
{{range .Attendees}}{{.}}
{{end}}
Total: {{len .Attendees}}
{{- else -}}
No attendees registered for this event.
{{- end}}
`))

type templateData struct {
	Title     string
	When      string
	Link      string
	Attendees []string
}

// TemplateComposer is the default text generator. Announcements are addressed
// to the attendee list copied by the operator, rosters to the operator.
type TemplateComposer struct {
	from string
	to   string
	loc  *time.Location
}

func NewTemplateComposer(from, to string, loc *time.Location) *TemplateComposer {
	if loc == nil {
		loc = time.UTC
	}
	return &TemplateComposer{from: from, to: to, loc: loc}
}

// Compose renders the message for one notification kind.
func (c *TemplateComposer) Compose(kind models.Kind, rec models.NotificationRecord, attendees []string) (models.Message, error) {
	start := rec.StartTime.In(c.loc)
	data := templateData{
		Title:     rec.Title,
		When:      start.Format("Monday 02 January 2006, 15:04 MST"),
		Link:      rec.Link,
		Attendees: attendees,
	}

	var (
		tmpl    *template.Template
		subject string
	)
	switch kind {
	case models.KindAnnouncement:
		tmpl, subject = announcementTmpl, "email_for_attendees_"+start.Format(subjectDateLayout)
	case models.KindAttendee:
		tmpl, subject = rosterTmpl, "list_of_attendees_"+start.Format(subjectDateLayout)
	default:
		return models.Message{}, fmt.Errorf("compose: unknown kind %q", kind)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return models.Message{}, fmt.Errorf("compose %s: %w", kind, err)
	}

	return models.Message{
		From:    c.from,
		To:      c.to,
		Subject: subject,
		Body:    strings.TrimLeft(body.String(), "\n"),
	}, nil
}
