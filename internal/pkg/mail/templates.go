package mail

import (
	"bytes"
	"encoding/json"
	"html/template"
)

const (
	TemplateBookingConfirmation   = "booking_confirmation"
	TemplatePaymentReceipt        = "payment_receipt"
	TemplateInvoiceReady          = "invoice_ready"
	TemplateReminderUpcoming      = "reminder_upcoming"
	TemplateGDPRExportReady       = "gdpr_export_ready"
	TemplateGDPRDeletionConfirmed = "gdpr_deletion_confirmed"
	TemplateCustom                = "custom"
)

const DefaultLocale = "en-CH"

var subjects = map[string]map[string]string{
	TemplateBookingConfirmation: {
		"en-CH": "Your booking is confirmed",
		"de-CH": "Ihre Buchung ist bestätigt",
		"fr-CH": "Votre réservation est confirmée",
	},
	TemplatePaymentReceipt: {
		"en-CH": "Payment receipt",
		"de-CH": "Zahlungsbeleg",
		"fr-CH": "Reçu de paiement",
	},
	TemplateInvoiceReady: {
		"en-CH": "Your invoice is ready",
		"de-CH": "Ihre Rechnung ist bereit",
		"fr-CH": "Votre facture est prête",
	},
	TemplateReminderUpcoming: {
		"en-CH": "Upcoming appointment reminder",
		"de-CH": "Erinnerung: Termin steht bevor",
		"fr-CH": "Rappel : rendez-vous à venir",
	},
	TemplateGDPRExportReady: {
		"en-CH": "Your data export is ready",
		"de-CH": "Ihr Datenauszug ist bereit",
		"fr-CH": "Votre export de données est prêt",
	},
	TemplateGDPRDeletionConfirmed: {
		"en-CH": "Your data deletion is completed",
		"de-CH": "Ihre Datenlöschung wurde abgeschlossen",
		"fr-CH": "La suppression de vos données est terminée",
	},
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`<p>{{.Subject}}</p>{{if .Data}}<pre>{{.Data}}</pre>{{end}}`,
))

// Rendered is a message ready for a provider.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Subject resolves the localized subject, falling back to en-CH. An explicit
// subject on the message always wins.
func Subject(msg Message) string {
	if msg.Subject != "" {
		return msg.Subject
	}
	if msg.Template == TemplateCustom {
		if s, ok := msg.Data["subject"].(string); ok && s != "" {
			return s
		}
		return "Notification"
	}
	locale := msg.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	if byLocale, ok := subjects[msg.Template]; ok {
		if s, ok := byLocale[locale]; ok {
			return s
		}
		return byLocale[DefaultLocale]
	}
	return "Notification"
}

func Render(msg Message) (Rendered, error) {
	subject := Subject(msg)
	data := ""
	if len(msg.Data) > 0 {
		raw, err := json.MarshalIndent(msg.Data, "", "  ")
		if err != nil {
			return Rendered{}, err
		}
		data = string(raw)
	}

	var html bytes.Buffer
	if err := bodyTemplate.Execute(&html, struct{ Subject, Data string }{subject, data}); err != nil {
		return Rendered{}, err
	}
	text := subject
	if data != "" {
		text += "\n" + data
	}
	return Rendered{Subject: subject, HTML: html.String(), Text: text}, nil
}
