package notifications

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/config"
)

// Notifier fans messages out to Telegram through a background worker so that
// emission never blocks the trading loop. The queue is an unbounded FIFO;
// Send always returns immediately.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	closed  bool
	drained chan struct{}
}

// NewNotifier creates a Notifier and starts its worker goroutine. An empty
// token yields a disabled notifier whose Send is a no-op.
func NewNotifier(cfg *config.Notifications, logger *zap.Logger) (*Notifier, error) {
	n := &Notifier{
		chatID:  cfg.TelegramChatID,
		logger:  logger,
		drained: make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)

	if cfg.TelegramToken == "" {
		logger.Info("No Telegram token configured, notifications disabled")
		close(n.drained)
		return n, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	n.api = api
	logger.Info("Telegram bot connected", zap.String("username", api.Self.UserName))

	go n.processQueue()
	return n, nil
}

// Enabled reports whether messages actually reach a sink.
func (n *Notifier) Enabled() bool {
	return n.api != nil
}

// Send enqueues a message. Never blocks.
func (n *Notifier) Send(message string) {
	if n.api == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, message)
	n.cond.Signal()
}

// Close stops accepting messages, lets the worker drain the queue and waits
// for it to exit.
func (n *Notifier) Close() {
	if n.api == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.drained
		return
	}
	n.closed = true
	n.cond.Signal()
	n.mu.Unlock()
	<-n.drained
}

func (n *Notifier) processQueue() {
	defer close(n.drained)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 && n.closed {
			n.mu.Unlock()
			return
		}
		message := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		msg := tgbotapi.NewMessage(n.chatID, message)
		if _, err := n.api.Send(msg); err != nil {
			n.logger.Warn("Failed to send Telegram notification", zap.Error(err))
		}
	}
}
