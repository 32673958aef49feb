package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender is the part of the SendGrid client the email channel uses.
type EmailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type emailTemplate struct {
	subject string
	body    string
}

// Placeholders are {key} names from the notification data.
var emailTemplates = map[string]emailTemplate{
	KindReservationConfirmed: {
		subject: "Your stay at {propertyName} is confirmed",
		body:    "Hi {guestName}, your reservation {reservationId} from {checkIn} to {checkOut} is confirmed.",
	},
	KindReservationCheckedIn: {
		subject: "Welcome to {propertyName}",
		body:    "Hi {guestName}, you are checked in. Check-out is on {checkOut}.",
	},
	KindReservationCompleted: {
		subject: "Thanks for staying at {propertyName}",
		body:    "Hi {guestName}, your stay {reservationId} is complete. We hope to see you again.",
	},
	KindReservationCancelled: {
		subject: "Reservation {reservationId} cancelled",
		body:    "Your reservation {reservationId} was cancelled. Refund: {refundAmount} {currency}.",
	},
	KindPaymentReceived: {
		subject: "Payment received for {reservationId}",
		body:    "We received {amount} {currency}. Outstanding balance: {outstandingBalance} {currency}.",
	},
	KindPayoutCompleted: {
		subject: "Payout sent",
		body:    "Your payout of {amount} {currency} for reservation {reservationId} was sent (ref {payoutRef}).",
	},
	KindPayoutReminder: {
		subject: "Pending owner payout {transactionId}",
		body:    "Owner payout {transactionId} of {amount} {currency} has been pending since {createdAt}.",
	},
}

// EmailChannel sends notifications through SendGrid.
type EmailChannel struct {
	sender    EmailSender
	fromEmail string
	fromName  string
}

// NewEmailChannel creates a SendGrid-backed channel
func NewEmailChannel(apiKey, fromEmail, fromName string) *EmailChannel {
	return NewEmailChannelWithSender(sendgrid.NewSendClient(apiKey), fromEmail, fromName)
}

// NewEmailChannelWithSender creates an email channel on top of any sender
func NewEmailChannelWithSender(sender EmailSender, fromEmail, fromName string) *EmailChannel {
	return &EmailChannel{sender: sender, fromEmail: fromEmail, fromName: fromName}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if n.Recipient.Email == "" {
		return ErrNoAddress
	}

	subject, body := renderEmail(n)
	from := mail.NewEmail(c.fromName, c.fromEmail)
	to := mail.NewEmail(n.Recipient.Name, n.Recipient.Email)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	response, err := c.sender.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 500 || response.StatusCode == 429 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	if response.StatusCode >= 400 {
		return Permanent(fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body))
	}
	return nil
}

func renderEmail(n Notification) (string, string) {
	tmpl, ok := emailTemplates[n.Kind]
	if !ok {
		return n.Kind, dataLines(n.Data)
	}

	pairs := make([]string, 0, len(n.Data)*2)
	for k, v := range n.Data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(tmpl.subject), r.Replace(tmpl.body)
}

func dataLines(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, data[k])
	}
	return b.String()
}
