package notification

import (
	"Go2NetSentry/internal/config"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestEmailNotifier_Send(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{Host: "mail.local", Port: 25, From: "sensor@local", To: "a@local, b@local,"})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := n.Send("Alert", "<h1>hi</h1>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "mail.local:25" {
		t.Errorf("Unexpected server address %s", gotAddr)
	}
	if len(gotTo) != 2 || gotTo[1] != "b@local" {
		t.Errorf("Unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Alert\r\n") || !strings.HasSuffix(gotMsg, "\r\n\r\n<h1>hi</h1>") {
		t.Errorf("Unexpected message %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "Content-Type: text/html") {
		t.Error("Message should be sent as HTML")
	}
}

func TestEmailNotifier_Errors(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{Host: "mail.local", Port: 25})
	if err := n.Send("s", "b"); err == nil {
		t.Error("Expected error without recipients")
	}

	n = NewEmailNotifier(config.SMTPConfig{Host: "mail.local", Port: 25, To: "a@local"})
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := n.Send("s", "b"); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("Expected wrapped send error, got %v", err)
	}
}
