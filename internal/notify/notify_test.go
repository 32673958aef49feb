package notify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockChannel struct {
	mock.Mock
	name string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func noSleep(context.Context, time.Duration) error { return nil }

var guest = Recipient{UserID: "g1", Name: "Ana", Email: "ana@example.com"}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	a := &mockChannel{name: "log"}
	b := &mockChannel{name: "kafka"}
	a.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	b.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	f := NewFanout(RetryPolicy{MaxAttempts: 3, Sleep: noSleep}, a, b)
	receipt, err := f.Notify(context.Background(), KindReservationConfirmed, guest, map[string]string{"reservationId": "r1"})

	require.NoError(t, err)
	assert.Equal(t, Receipt{Channel: "log,kafka", Status: StatusSent}, receipt)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestFanoutRetriesTransientFailures(t *testing.T) {
	ch := &mockChannel{name: "email"}
	ch.On("Send", mock.Anything, mock.Anything).Return(errors.New("timeout")).Twice()
	ch.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	f := NewFanout(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}, ch)
	receipt, err := f.Notify(context.Background(), KindPaymentReceived, guest, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSent, receipt.Status)
	ch.AssertNumberOfCalls(t, "Send", 3)
}

func TestFanoutPartialAndFailed(t *testing.T) {
	ok := &mockChannel{name: "log"}
	bad := &mockChannel{name: "kafka"}
	ok.On("Send", mock.Anything, mock.Anything).Return(nil)
	bad.On("Send", mock.Anything, mock.Anything).Return(Permanent(errors.New("topic missing")))

	f := NewFanout(RetryPolicy{MaxAttempts: 3, Sleep: noSleep}, ok, bad)
	receipt, err := f.Notify(context.Background(), KindReservationCancelled, guest, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, receipt.Status)
	bad.AssertNumberOfCalls(t, "Send", 1)

	f = NewFanout(RetryPolicy{MaxAttempts: 2, Sleep: noSleep}, bad)
	receipt, err = f.Notify(context.Background(), KindReservationCancelled, guest, nil)
	assert.ErrorContains(t, err, "topic missing")
	assert.Equal(t, StatusFailed, receipt.Status)
}

func TestFanoutSkipsChannelsWithoutAddress(t *testing.T) {
	ch := &mockChannel{name: "email"}
	ch.On("Send", mock.Anything, mock.Anything).Return(ErrNoAddress).Once()

	f := NewFanout(RetryPolicy{MaxAttempts: 3, Sleep: noSleep}, ch)
	receipt, err := f.Notify(context.Background(), KindPayoutReminder, Recipient{UserID: "u"}, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, receipt.Status)
	ch.AssertNumberOfCalls(t, "Send", 1)
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{MaxAttempts: 5, Sleep: noSleep}.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel(zap.NewNop())
	assert.Equal(t, "log", ch.Name())
	assert.NoError(t, ch.Send(context.Background(), Notification{Kind: KindReservationConfirmed}))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	args := m.Called(ctx, email)
	resp, _ := args.Get(0).(*rest.Response)
	return resp, args.Error(1)
}

func TestEmailChannelRendersTemplate(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendWithContext", mock.Anything, mock.MatchedBy(func(m *mail.SGMailV3) bool {
		return m.Subject == "Your stay at Sea View is confirmed" &&
			len(m.Personalizations) == 1 &&
			m.Personalizations[0].To[0].Address == "ana@example.com"
	})).Return(&rest.Response{StatusCode: http.StatusAccepted}, nil).Once()

	ch := NewEmailChannelWithSender(sender, "no-reply@example.com", "Reservations")
	err := ch.Send(context.Background(), Notification{
		Kind:      KindReservationConfirmed,
		Recipient: guest,
		Data:      map[string]string{"propertyName": "Sea View", "guestName": "Ana"},
	})

	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestEmailChannelErrors(t *testing.T) {
	ch := NewEmailChannelWithSender(&mockSender{}, "from@example.com", "")
	assert.ErrorIs(t, ch.Send(context.Background(), Notification{Recipient: Recipient{UserID: "x"}}), ErrNoAddress)

	sender := &mockSender{}
	sender.On("SendWithContext", mock.Anything, mock.Anything).
		Return(&rest.Response{StatusCode: http.StatusBadRequest, Body: "invalid"}, nil).Once()
	ch = NewEmailChannelWithSender(sender, "from@example.com", "")

	err := ch.Send(context.Background(), Notification{Kind: "custom", Recipient: guest})
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}

func TestRenderEmailFallsBackToDataLines(t *testing.T) {
	subject, body := renderEmail(Notification{Kind: "custom", Data: map[string]string{"b": "2", "a": "1"}})
	assert.Equal(t, "custom", subject)
	assert.Equal(t, "a: 1\nb: 2\n", body)
}
