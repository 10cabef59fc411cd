package sms

import (
	"context"
	"fmt"
	"sync/atomic"

	"gym_subscription_notifier/internal/domain/messaging"

	"github.com/sirupsen/logrus"
)

// LogSender writes messages to the log instead of a provider. Used for local runs.
type LogSender struct {
	logger *logrus.Entry
	seq    atomic.Int64
}

func NewLogSender(logger *logrus.Entry) *LogSender {
	return &LogSender{logger: logger}
}

var _ messaging.Sender = (*LogSender)(nil)

func (s *LogSender) Send(ctx context.Context, msg messaging.Message) (messaging.Receipt, error) {
	if msg.To == "" {
		return messaging.Receipt{}, ErrMissingDestination
	}
	if err := ctx.Err(); err != nil {
		return messaging.Receipt{}, err
	}
	sid := fmt.Sprintf("LOG%06d", s.seq.Add(1))
	s.logger.WithFields(logrus.Fields{
		"to":          msg.To,
		"from":        msg.From,
		"message_sid": sid,
	}).Info(msg.Body)
	return messaging.Receipt{SID: sid, Status: "logged"}, nil
}
