package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"library-backend/internal/platform/config"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[Event]string{
	EventBorrowCode:      "Mã xác nhận mượn sách",
	EventReturnCode:      "Mã xác nhận trả sách",
	EventBorrowApproved:  "Yêu cầu mượn sách đã được duyệt",
	EventBorrowRejected:  "Yêu cầu mượn sách bị từ chối",
	EventBorrowCompleted: "Mượn sách thành công",
	EventReturnCompleted: "Trả sách thành công",
	EventOverdue:         "Thông báo sách quá hạn",
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg  config.MailConfig
	tmpl *template.Template
	send sendFunc
}

func NewSMTPNotifier(cfg config.MailConfig) (*SMTPNotifier, error) {
	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.Format("02/01/2006") },
		"time": func(t time.Time) string { return t.Format("15:04 02/01/2006") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	for ev := range subjects {
		if tmpl.Lookup(string(ev)) == nil {
			return nil, fmt.Errorf("missing mail template %q", ev)
		}
	}
	return &SMTPNotifier{cfg: cfg, tmpl: tmpl, send: smtp.SendMail}, nil
}

// Render returns the subject and HTML body for msg.
func (n *SMTPNotifier) Render(msg Message) (string, []byte, error) {
	subject, ok := subjects[msg.Event]
	if !ok {
		return "", nil, fmt.Errorf("unknown event %q", msg.Event)
	}
	var body bytes.Buffer
	if err := n.tmpl.ExecuteTemplate(&body, string(msg.Event), msg); err != nil {
		return "", nil, fmt.Errorf("render %s: %w", msg.Event, err)
	}
	return subject, body.Bytes(), nil
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := n.Render(msg)
	if err != nil {
		return err
	}

	from := n.cfg.SenderEmail
	var raw bytes.Buffer
	fmt.Fprintf(&raw, "From: %s\r\n", mime.QEncoding.Encode("utf-8", n.cfg.SenderName)+" <"+from+">")
	fmt.Fprintf(&raw, "To: %s\r\n", msg.To)
	fmt.Fprintf(&raw, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	raw.Write(body)

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	return n.send(addr, auth, from, []string{msg.To}, raw.Bytes())
}
