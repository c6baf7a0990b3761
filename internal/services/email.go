package services

import (
	"fmt"
	"net/smtp"
	"strings"

	"membership_checkout/internal/config"
	"membership_checkout/internal/models"
)

// Mailer sends plain-text mail.
type Mailer interface {
	SendEmail(to []string, subject, body string) error
}

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPass,
		from:     cfg.EmailFrom,
		send:     smtp.SendMail,
	}
}

// Configured reports whether SMTP credentials are present.
func (s *EmailService) Configured() bool {
	return s.host != "" && s.port != "" && s.user != "" && s.password != ""
}

func (s *EmailService) SendEmail(to []string, subject, body string) error {
	if !s.Configured() {
		return fmt.Errorf("SMTP credentials not fully configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	message := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", s.from, strings.Join(to, ", "), subject, body))

	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := s.send(addr, auth, s.from, to, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// ReceiptMessage renders the subject and body of a purchase receipt.
func ReceiptMessage(order *models.PaymentOrder) (subject, body string) {
	factor := models.MinorUnitFactor(order.Currency)
	amount := fmt.Sprintf("%d %s", order.AmountMinorUnits/factor, strings.ToUpper(order.Currency))
	if factor > 1 {
		amount = fmt.Sprintf("%d.%02d %s", order.AmountMinorUnits/factor, order.AmountMinorUnits%factor, strings.ToUpper(order.Currency))
	}

	subject = fmt.Sprintf("Your %s membership receipt", order.PackageName)
	body = fmt.Sprintf("Thank you for your purchase.\r\n\r\n"+
		"Order: %s\r\n"+
		"Package: %s\r\n"+
		"Amount: %s\r\n"+
		"Paid at: %s\r\n",
		order.OrderID, order.PackageName, amount, order.UpdatedAt.UTC().Format("2006-01-02 15:04 MST"))
	return subject, body
}
