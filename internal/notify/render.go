package notify

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Templates - шаблоны сообщений по каналам
type Templates map[reminder.Channel]Template

func DefaultTemplates() Templates {
	return Templates{
		reminder.ChannelEmail: {
			Subject: `[{{.Priority}}] {{.Title}} is due {{.DueIn}}`,
			Body: `{{.Title}} ({{.Category}}) is due on {{.DueDate}}, {{.DueIn}}.
{{- if .Requirements}}
Requirements: {{.Requirements}}
{{- end}}
{{- if .URL}}
Details: {{.URL}}
{{- end}}`,
		},
		reminder.ChannelPush: {
			Subject: `{{.Title}}`,
			Body:    `Due {{.DueIn}} ({{.DueDate}})`,
		},
	}
}

// LoadTemplates читает YAML и накладывает его поверх шаблонов по умолчанию
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение шаблонов: %w", err)
	}

	var fromFile map[string]Template
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("разбор шаблонов %s: %w", path, err)
	}

	res := DefaultTemplates()
	for channel, tpl := range fromFile {
		base := res[reminder.Channel(channel)]
		if tpl.Subject != "" {
			base.Subject = tpl.Subject
		}
		if tpl.Body != "" {
			base.Body = tpl.Body
		}
		res[reminder.Channel(channel)] = base
	}
	return res, nil
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

type Renderer struct {
	templates map[reminder.Channel]compiled
	location  *time.Location
}

type messageData struct {
	Title        string
	Category     string
	Priority     string
	DueDate      string
	DueIn        string
	LeadDays     int
	URL          string
	Requirements string
	Recipient    string
}

func NewRenderer(templates Templates, loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	if _, ok := templates[reminder.ChannelEmail]; !ok {
		return nil, fmt.Errorf("нет шаблона для канала %s", reminder.ChannelEmail)
	}

	r := &Renderer{templates: make(map[reminder.Channel]compiled, len(templates)), location: loc}
	for channel, tpl := range templates {
		subject, err := template.New(string(channel) + ".subject").Parse(tpl.Subject)
		if err != nil {
			return nil, fmt.Errorf("шаблон темы %s: %w", channel, err)
		}
		body, err := template.New(string(channel) + ".body").Parse(tpl.Body)
		if err != nil {
			return nil, fmt.Errorf("шаблон текста %s: %w", channel, err)
		}
		r.templates[channel] = compiled{subject: subject, body: body}
	}
	return r, nil
}

// Render собирает сообщение; для неизвестного канала берётся шаблон email
func (r *Renderer) Render(d *deadline.Deadline, rem *reminder.Reminder, now time.Time) (Message, error) {
	tpl, ok := r.templates[rem.Channel]
	if !ok {
		tpl = r.templates[reminder.ChannelEmail]
	}

	data := messageData{
		Title:        d.Title,
		Category:     strings.ReplaceAll(string(d.Category), "_", " "),
		Priority:     string(d.Priority),
		DueDate:      d.DueAt.In(r.location).Format("2006-01-02"),
		DueIn:        humanize.RelTime(d.DueAt, now, "ago", "from now"),
		LeadDays:     rem.LeadDays,
		URL:          d.ExternalURL,
		Requirements: d.Requirements,
		Recipient:    rem.Recipient,
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("рендер темы: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("рендер текста: %w", err)
	}

	return Message{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()),
	}, nil
}
