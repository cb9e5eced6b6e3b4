package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/agencyhq/backend/internal/config"
	"github.com/agencyhq/backend/internal/models"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when SMTP settings are missing
var ErrNotConfigured = errors.New("email service not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService handles sending emails
type EmailService struct {
	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	frontendURL  string
	send         sendFunc
	log          *zap.Logger
}

// NewEmailService creates a new email service
func NewEmailService(cfg config.SMTPConfig, frontendURL string, log *zap.Logger) *EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailService{
		smtpHost:     cfg.Host,
		smtpPort:     cfg.Port,
		smtpUsername: cfg.Username,
		smtpPassword: cfg.Password,
		fromEmail:    cfg.From,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		send:         smtp.SendMail,
		log:          log,
	}
}

// Enabled reports whether SMTP is configured
func (s *EmailService) Enabled() bool {
	return s.smtpHost != "" && s.smtpPort != "" && s.smtpUsername != "" && s.smtpPassword != ""
}

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #111827; color: white; padding: 10px; text-align: center; }
		.content { padding: 20px; }
		.button { display: inline-block; background-color: #111827; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header"><h1>Agency</h1></div>
		<div class="content">
			<h2>Hello {{.Name}},</h2>
			{{range .Paragraphs}}<p>{{.}}</p>
			{{end}}{{if .Link}}<p><a href="{{.Link}}" class="button">{{.LinkText}}</a></p>{{end}}
			<p>Best regards,<br>The Agency Team</p>
		</div>
	</div>
</body>
</html>
`))

type message struct {
	Name       string
	Paragraphs []string
	Link       string
	LinkText   string
}

// SendOrderPaid confirms a paid order and points the client to their project
func (s *EmailService) SendOrderPaid(toEmail, name string, order *models.Order) error {
	service := order.ServiceSnapshot.Data()
	subject := fmt.Sprintf("Payment received for %s", service.Name)
	body, err := render(message{
		Name: name,
		Paragraphs: []string{
			fmt.Sprintf("We have received your payment of %s for %s.", FormatAmount(order.TotalPrice, order.Currency), service.Name),
			"Your project has been created and our team will reach out shortly to schedule a kickoff.",
			fmt.Sprintf("Order reference: %s", order.Reference()),
		},
		Link:     s.frontendURL + "/dashboard/projects",
		LinkText: "View Project",
	})
	if err != nil {
		return err
	}
	return s.sendEmail(toEmail, subject, body)
}

// SendWithdrawalProcessed tells a referrer about a decision on their payout
func (s *EmailService) SendWithdrawalProcessed(toEmail, name string, req *models.WithdrawalRequest) error {
	amount := FormatAmount(req.Amount, models.CurrencyNGN)
	var subject, line string
	switch req.Status {
	case models.WithdrawalStatusApproved:
		subject, line = "Your withdrawal was approved", fmt.Sprintf("Your withdrawal of %s has been approved and is being paid out.", amount)
	case models.WithdrawalStatusCompleted:
		subject, line = "Your withdrawal was paid", fmt.Sprintf("Your withdrawal of %s has been paid.", amount)
	case models.WithdrawalStatusRejected:
		subject, line = "Your withdrawal was declined", fmt.Sprintf("Your withdrawal of %s was declined and the amount is back in your available balance.", amount)
	default:
		return fmt.Errorf("no email for withdrawal status %s", req.Status)
	}

	paragraphs := []string{line}
	if req.AdminNotes != "" {
		paragraphs = append(paragraphs, "Note from our team: "+req.AdminNotes)
	}
	body, err := render(message{
		Name:       name,
		Paragraphs: paragraphs,
		Link:       s.frontendURL + "/dashboard/referrals",
		LinkText:   "Open Referral Dashboard",
	})
	if err != nil {
		return err
	}
	return s.sendEmail(toEmail, subject, body)
}

// FormatAmount renders minor units as a decimal amount with its currency code
func FormatAmount(amount models.Money, currency models.Currency) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, amount/100, amount%100)
}

func render(m message) (string, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, m); err != nil {
		return "", fmt.Errorf("error rendering email: %w", err)
	}
	return buf.String(), nil
}

// sendEmail sends an email with HTML content
func (s *EmailService) sendEmail(toEmail, subject, htmlBody string) error {
	if !s.Enabled() {
		s.log.Warn("email service not configured, skipping", zap.String("subject", subject))
		return ErrNotConfigured
	}

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	from := fmt.Sprintf("From: Agency <%s>\n", s.fromEmail)
	to := fmt.Sprintf("To: %s\n", toEmail)
	subject = fmt.Sprintf("Subject: %s\n", subject)

	msg := []byte(from + to + subject + mime + htmlBody)

	auth := smtp.PlainAuth("", s.smtpUsername, s.smtpPassword, s.smtpHost)
	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)

	if err := s.send(addr, auth, s.fromEmail, []string{toEmail}, msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	s.log.Info("email sent", zap.String("to", toEmail), zap.String("subject", strings.TrimSpace(strings.TrimPrefix(subject, "Subject:"))))
	return nil
}
