package mail

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
)

type PostmarkSender struct {
	token   string
	from    string
	baseURL string
	client  *http.Client
}

func NewPostmarkSender(token, from, baseURL string) *PostmarkSender {
	return &PostmarkSender{
		token:   token,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  defaultHTTPClient(),
	}
}

type postmarkAttachment struct {
	Name        string
	Content     string
	ContentType string
}

type postmarkEmail struct {
	From        string
	To          string
	Cc          string `json:",omitempty"`
	Bcc         string `json:",omitempty"`
	Subject     string
	HtmlBody    string
	TextBody    string
	Tag         string               `json:",omitempty"`
	Attachments []postmarkAttachment `json:",omitempty"`
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	rendered, err := Render(msg)
	if err != nil {
		return err
	}

	payload := postmarkEmail{
		From:     s.from,
		To:       strings.Join(msg.To, ","),
		Cc:       strings.Join(msg.Cc, ","),
		Bcc:      strings.Join(msg.Bcc, ","),
		Subject:  rendered.Subject,
		HtmlBody: rendered.HTML,
		TextBody: rendered.Text,
		Tag:      msg.Template,
	}
	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		payload.Attachments = append(payload.Attachments, postmarkAttachment{
			Name:        a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: ct,
		})
	}

	return postJSON(ctx, s.client, ProviderPostmark, s.baseURL+"/email", map[string]string{
		"X-Postmark-Server-Token": s.token,
	}, payload)
}
