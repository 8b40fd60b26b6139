package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// Notification carries the details a recipient needs to fetch a share.
type Notification struct {
	FileName    string
	DownloadURL string
	ExpiresAt   time.Time
	OneTime     bool
}

// Notifier delivers share notifications. Delivery is best-effort: a failed
// send never invalidates the share it announces.
type Notifier interface {
	Send(ctx context.Context, recipient string, n Notification) error
}

// Mailer sends share notifications over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer creates an SMTP-backed notifier.
func NewMailer(host string, port int, from, password string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, from, password),
		from:   from,
	}
}

// Send emails the download link to the recipient.
func (m *Mailer) Send(ctx context.Context, recipient string, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", fmt.Sprintf("File Ready for Download: %s", n.FileName))
	msg.SetBody("text/plain", body(n))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", recipient, err)
	}
	return nil
}

func body(n Notification) string {
	deletion := "This file will be automatically deleted once it expires"
	if n.OneTime {
		deletion = "This file will be automatically deleted after download\n- The file can only be downloaded once"
	}
	return fmt.Sprintf(`Hello!

Your file %q has been uploaded and is ready for download.

Download Link: %s

Important Notes:
- %s
- The link expires at %s

If you did not request this file, please ignore this email.

Best regards,
File Sharing Service
`, n.FileName, n.DownloadURL, deletion, n.ExpiresAt.UTC().Format(time.RFC1123))
}
