package sms

import (
	"context"
	"errors"
	"fmt"

	"gym_subscription_notifier/internal/domain/messaging"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrMissingDestination is returned for messages without a recipient number.
var ErrMissingDestination = errors.New("sms destination is empty")

// messageCreator is the slice of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender delivers messages through the Twilio Messaging REST API.
type TwilioSender struct {
	api messageCreator
}

func NewTwilioSender(accountSID, authToken string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api}
}

var _ messaging.Sender = (*TwilioSender)(nil)

func (s *TwilioSender) Send(ctx context.Context, msg messaging.Message) (messaging.Receipt, error) {
	if msg.To == "" {
		return messaging.Receipt{}, ErrMissingDestination
	}
	// The SDK call is not context-aware; honour cancellation before dialing out.
	if err := ctx.Err(); err != nil {
		return messaging.Receipt{}, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return messaging.Receipt{}, fmt.Errorf("twilio rejected message (code %d): %s: %w", restErr.Code, restErr.Message, err)
		}
		return messaging.Receipt{}, fmt.Errorf("twilio request failed: %w", err)
	}

	var receipt messaging.Receipt
	if resp.Sid != nil {
		receipt.SID = *resp.Sid
	}
	if resp.Status != nil {
		receipt.Status = *resp.Status
	}
	return receipt, nil
}
