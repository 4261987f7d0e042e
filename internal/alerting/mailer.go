package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meramandi/internal/schedule"
)

// ConfirmationData fills the subscription confirmation email.
type ConfirmationData struct {
	Name      string
	Commodity string
	Mandi     string
	District  string
	Schedules []schedule.Entry
}

// OTPData fills the email verification code message.
type OTPData struct {
	Name     string
	Code     string
	ValidFor time.Duration
}

// Minutes is the validity window rounded to whole minutes.
func (d OTPData) Minutes() int {
	return int(d.ValidFor.Round(time.Minute) / time.Minute)
}

// Mailer delivers transactional email.
type Mailer interface {
	SendConfirmation(ctx context.Context, to string, data ConfirmationData) error
	SendOTP(ctx context.Context, to string, data OTPData) error
}

// SMTPOptions configure SMTPMailer.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends email over SMTP with STARTTLS when offered.
type SMTPMailer struct {
	opts   SMTPOptions
	logger zerolog.Logger
	send   func(ctx context.Context, to string, msg []byte) error
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(opts SMTPOptions, logger zerolog.Logger) *SMTPMailer {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	m := &SMTPMailer{opts: opts, logger: logger.With().Str("component", "mailer_smtp").Logger()}
	m.send = m.deliver
	return m
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h1 style="color: #16a34a;">MeraMandi Alert Confirmation</h1>
<p>Hi {{.Name}},</p>
<p>Your price alerts for {{.Commodity}} at {{.Mandi}} ({{.District}}) have been scheduled.</p>
<h3>Your Schedule:</h3>
<ul>
{{- range .Schedules}}
<li>{{.Day}} at {{.Time}}</li>
{{- end}}
</ul>
<p>You will receive SMS alerts at these times.</p>
<p>Happy Farming! 🌾</p>
</div>`))

var otpTmpl = template.Must(template.New("otp").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
<h1 style="color: #16a34a;">Verify your email</h1>
<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Your MeraMandi verification code is:</p>
<p style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">{{.Code}}</p>
<p>The code expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>
</div>`))

// SendConfirmation renders and sends the subscription confirmation.
func (m *SMTPMailer) SendConfirmation(ctx context.Context, to string, data ConfirmationData) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("recipient email is empty")
	}

	msg, err := m.buildMessage(to, "🌱 MeraMandi Alert Subscription Confirmed", confirmationTmpl, data)
	if err != nil {
		return err
	}
	if err := m.send(ctx, to, msg); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}

	m.logger.Info().Str("to", to).Msg("confirmation email sent")
	return nil
}

// SendOTP sends an email verification code.
func (m *SMTPMailer) SendOTP(ctx context.Context, to string, data OTPData) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("recipient email is empty")
	}

	msg, err := m.buildMessage(to, "MeraMandi verification code", otpTmpl, data)
	if err != nil {
		return err
	}
	if err := m.send(ctx, to, msg); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}

	m.logger.Info().Str("to", to).Msg("otp email sent")
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject string, tmpl *template.Template, data any) ([]byte, error) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render %s email: %w", tmpl.Name(), err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: \"MeraMandi\" <%s>\r\n", m.opts.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (m *SMTPMailer) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.opts.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.opts.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.opts.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// NopMailer drops email; used when SMTP is not configured.
type NopMailer struct {
	logger zerolog.Logger
}

// NewNopMailer builds a mailer that only logs.
func NewNopMailer(logger zerolog.Logger) *NopMailer {
	return &NopMailer{logger: logger.With().Str("component", "mailer_nop").Logger()}
}

// SendConfirmation logs and skips the email.
func (n *NopMailer) SendConfirmation(ctx context.Context, to string, data ConfirmationData) error {
	n.logger.Debug().Str("to", to).Msg("smtp not configured; skipping confirmation email")
	return nil
}

// SendOTP logs the code so development setups without SMTP can still verify.
func (n *NopMailer) SendOTP(ctx context.Context, to string, data OTPData) error {
	n.logger.Info().Str("to", to).Str("code", data.Code).Msg("smtp not configured; otp email not sent")
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*NopMailer)(nil)
)
