package notification

import (
	"bytes"
	"text/template"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

const previewLength = 100

var (
	firstBody = template.Must(template.New("first").Parse(`Hi {{.Recipient}},

{{.Sender}} sent you a new message:

    {{.Preview}}

Open the app to read and reply.
`))

	followUpBody = template.Must(template.New("follow_up").Parse(`Hi {{.Recipient}},

You still have an unread message from {{.Sender}}:

    {{.Preview}}

Open the app to read and reply.
`))
)

type reminderData struct {
	Recipient string
	Sender    string
	Preview   string
}

// renderReminder builds the subject and body of a reminder.
func renderReminder(sender, recipient *model.User, msg *model.Message, followUp bool) (subject, body string, err error) {
	data := reminderData{
		Recipient: recipient.Name(),
		Sender:    sender.Name(),
		Preview:   msg.Preview(previewLength),
	}

	tmpl := firstBody
	subject = "New message from " + data.Sender
	if followUp {
		tmpl = followUpBody
		subject = "Follow-up: New message from " + data.Sender
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
