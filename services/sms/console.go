// Package smssvc delivers text messages to mobile numbers.
package smssvc

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/services/metrics"
)

// ConsoleService prints text messages instead of sending them. Sent messages are kept for inspection.
type ConsoleService struct {
	conf    *core.Config
	out     io.Writer
	logger  core.Logger
	metrics *metrics.Metrics
	sync    bool

	mu   sync.Mutex
	sent []core.SMSMessage
}

var _ core.SMSService = (*ConsoleService)(nil)

func NewConsoleService(conf *core.Config, logger core.Logger, m *metrics.Metrics) *ConsoleService {
	return &ConsoleService{conf: conf, out: os.Stdout, logger: logger, metrics: m}
}

// NewConsoleServiceMock sends synchronously and prints nothing.
func NewConsoleServiceMock(conf *core.Config, logger core.Logger) *ConsoleService {
	return &ConsoleService{conf: conf, out: io.Discard, logger: logger, sync: true}
}

func (svc *ConsoleService) SendMessages(messages ...*core.SMSMessage) {
	for _, msg := range messages {
		if svc.sync {
			svc.sendMessage(msg)
		} else {
			go svc.sendMessage(msg)
		}
	}
}

// SentMessages returns a copy of the messages sent so far.
func (svc *ConsoleService) SentMessages() []core.SMSMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.SMSMessage(nil), svc.sent...)
}

func (svc *ConsoleService) sendMessage(msg *core.SMSMessage) {
	if err := msg.Render(svc.conf); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering sms: %v", err), err)
		return
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return
	}

	_, _ = fmt.Fprintf(svc.out, "SMS to %s:\n%s\n", strings.Join(msg.To, ", "), msg.Content)
	svc.metrics.IncSMSSent(msg.TemplateName, true)

	svc.mu.Lock()
	svc.sent = append(svc.sent, *msg)
	svc.mu.Unlock()
}
