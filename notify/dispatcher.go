// Package notify is the delivery boundary for signature requests and
// reminders. Dispatch is fire-and-observe: the authoritative state change has
// already committed by the time a dispatcher runs, and a failed send is a
// reported outcome, never an error that unwinds the caller's operation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Delivery is the observed outcome of one dispatch attempt.
type Delivery struct {
	Delivered bool
	// Reason carries the failure detail when Delivered is false.
	Reason string
}

// Request is a signature invitation or reminder to deliver.
type Request struct {
	SignatureID    string
	RecipientName  string
	RecipientEmail string
	AgreementID    string
	Message        string
}

// Dispatcher delivers signature requests. Implementations never return an
// error for delivery failure; they report it in the Delivery.
type Dispatcher interface {
	SendSignatureRequest(ctx context.Context, req Request) Delivery
}

// SMTPDispatcher sends plain-text mail through a single SMTP endpoint.
type SMTPDispatcher struct {
	addr   string
	from   string
	logger *slog.Logger
	// send is swappable for tests.
	send func(addr, from string, to []string, msg []byte) error
}

// NewSMTPDispatcher wires a dispatcher against addr (host:port) sending as from.
func NewSMTPDispatcher(addr, from string, logger *slog.Logger) *SMTPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPDispatcher{
		addr:   addr,
		from:   from,
		logger: logger,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// SendSignatureRequest attempts delivery and reports the outcome.
func (d *SMTPDispatcher) SendSignatureRequest(ctx context.Context, req Request) Delivery {
	if req.RecipientEmail == "" {
		return Delivery{Delivered: false, Reason: "empty recipient"}
	}

	var body strings.Builder
	fmt.Fprintf(&body, "To: %s\r\n", req.RecipientEmail)
	fmt.Fprintf(&body, "Subject: Signature requested for affiliation agreement %s\r\n", req.AgreementID)
	body.WriteString("\r\n")
	fmt.Fprintf(&body, "Hello %s,\r\n\r\nYour signature has been requested on affiliation agreement %s.\r\n",
		req.RecipientName, req.AgreementID)
	if req.Message != "" {
		fmt.Fprintf(&body, "\r\n%s\r\n", req.Message)
	}

	if err := d.send(d.addr, d.from, []string{req.RecipientEmail}, []byte(body.String())); err != nil {
		d.logger.Warn("signature request delivery failed",
			"signature_id", req.SignatureID,
			"recipient", req.RecipientEmail,
			"error", err,
		)
		return Delivery{Delivered: false, Reason: err.Error()}
	}

	d.logger.Info("signature request delivered",
		"signature_id", req.SignatureID,
		"recipient", req.RecipientEmail,
	)
	return Delivery{Delivered: true}
}
