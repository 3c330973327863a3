package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// RegistrationConfirmation is rendered into the event confirmation email.
type RegistrationConfirmation struct {
	Name       string
	EventTitle string
	StartsAt   string
	Location   string
	Reference  string
	AmountPaid string
	FromName   string
}

func RenderRegistrationConfirmation(data RegistrationConfirmation) (Message, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, "registration_confirmation.html", data); err != nil {
		return Message{}, fmt.Errorf("render registration confirmation: %w", err)
	}

	text := fmt.Sprintf("Hi %s,\n\nYour registration for %s on %s is confirmed.\nReference: %s\n",
		data.Name, data.EventTitle, data.StartsAt, data.Reference)

	return Message{
		Subject: fmt.Sprintf("Registration confirmed: %s", data.EventTitle),
		HTML:    body.String(),
		Text:    text,
	}, nil
}
