// Package mailer sends buyer-facing notification emails over SMTP.
package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type Mailer interface {
	SendPoolMilestone(toEmail, poolTitle string, pledged, target int) error
	SendPoolLocked(toEmail, poolTitle string) error
	SendPoolFailed(toEmail, poolTitle string) error
}

// NoopMailer is wired when SMTP is not configured.
type NoopMailer struct{}

func (NoopMailer) SendPoolMilestone(string, string, int, int) error { return nil }
func (NoopMailer) SendPoolLocked(string, string) error              { return nil }
func (NoopMailer) SendPoolFailed(string, string) error              { return nil }

type SMTPMailer struct {
	Host string
	Port int
	From string
	Pass string
}

func (m SMTPMailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.Host, m.Port, m.From, m.Pass)
	return d.DialAndSend(msg)
}

func (m SMTPMailer) SendPoolMilestone(toEmail, poolTitle string, pledged, target int) error {
	return m.send(toEmail, "Your pool is filling up",
		fmt.Sprintf("The pool for %q has reached %d of %d units.", poolTitle, pledged, target))
}

func (m SMTPMailer) SendPoolLocked(toEmail, poolTitle string) error {
	return m.send(toEmail, "Pool locked: order going to the supplier",
		fmt.Sprintf("The pool for %q reached its target. Your payment has been captured and the group order is being placed.", poolTitle))
}

func (m SMTPMailer) SendPoolFailed(toEmail, poolTitle string) error {
	return m.send(toEmail, "Pool did not fill in time",
		fmt.Sprintf("The pool for %q missed its deadline. Your payment authorization has been released.", poolTitle))
}
