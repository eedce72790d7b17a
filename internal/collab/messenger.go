package collab

import (
	"context"
	"log/slog"

	"github.com/petrijr/cadence/pkg/api"
)

// RetryingMessenger retries the read-only Messenger calls under a
// RetryPolicy. PostMessage is passed through exactly once.
type RetryingMessenger struct {
	next   api.Messenger
	policy RetryPolicy
}

var _ api.Messenger = (*RetryingMessenger)(nil)

// NewRetryingMessenger wraps next.
func NewRetryingMessenger(next api.Messenger, policy RetryPolicy) *RetryingMessenger {
	return &RetryingMessenger{next: next, policy: policy}
}

func (m *RetryingMessenger) PostMessage(ctx context.Context, msg api.Message) (api.PostResult, error) {
	return m.next.PostMessage(ctx, msg)
}

func (m *RetryingMessenger) OpenDirectConversation(ctx context.Context, userID string) (string, error) {
	var channel string
	err := m.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		channel, err = m.next.OpenDirectConversation(ctx, userID)
		return err
	})
	return channel, err
}

func (m *RetryingMessenger) GetChannelInfo(ctx context.Context, channelID string) (api.ChannelInfo, error) {
	var info api.ChannelInfo
	err := m.policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		info, err = m.next.GetChannelInfo(ctx, channelID)
		return err
	})
	return info, err
}

// LogMessenger is a dry-run Messenger that logs every call and reports all
// channels as existing.
type LogMessenger struct {
	logger *slog.Logger
}

var _ api.Messenger = (*LogMessenger)(nil)

// NewLogMessenger creates a LogMessenger. A nil logger uses slog.Default().
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger}
}

func (m *LogMessenger) PostMessage(ctx context.Context, msg api.Message) (api.PostResult, error) {
	m.logger.InfoContext(ctx, "message_posted",
		slog.String("channel", msg.Channel),
		slog.String("thread_ts", msg.ThreadTS),
		slog.String("text", msg.Text),
	)
	return api.PostResult{TS: "dry-run"}, nil
}

func (m *LogMessenger) OpenDirectConversation(ctx context.Context, userID string) (string, error) {
	m.logger.DebugContext(ctx, "direct_conversation_opened", slog.String("user_id", userID))
	return "D-" + userID, nil
}

func (m *LogMessenger) GetChannelInfo(ctx context.Context, channelID string) (api.ChannelInfo, error) {
	return api.ChannelInfo{ID: channelID, Exists: true}, nil
}
