package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

func SendWelcome(to string) error {
	subject := "Willkommen"
	body := "Danke für deine Registrierung. Dein Free-Plan ist bereits aktiv. Du kannst sofort loslegen."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] welcome sent to %s", to)
	return nil
}

func SendPasswordChanged(to string) error {
	subject := "Passwort geändert"
	body := "Dein Passwort wurde erfolgreich geändert. Falls du das nicht warst, kontaktiere bitte den Support."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] password change notification sent to %s", to)
	return nil
}

func SendSubscriptionActive(to, planName string) error {
	subject := "Abonnement aktiv"
	body := fmt.Sprintf("Dein Abonnement (%s) ist jetzt aktiv. Viel Erfolg mit deinen Posts!", planName)
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] subscription notice sent to %s", to)
	return nil
}
