package smssvc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/services/metrics"
)

// KavenegarService sends text messages through the Kavenegar HTTP gateway.
type KavenegarService struct {
	conf    *core.Config
	baseURL string
	apiKey  string
	sender  string
	logger  core.Logger
	metrics *metrics.Metrics
}

var _ core.SMSService = (*KavenegarService)(nil)

type kavenegarResponse struct {
	Return struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"return"`
}

func NewKavenegarService(conf *core.Config, logger core.Logger, m *metrics.Metrics) *KavenegarService {
	return &KavenegarService{
		conf:    conf,
		baseURL: conf.SMS.BaseURL,
		apiKey:  conf.SMS.APIKey,
		sender:  conf.SMS.Sender,
		logger:  logger,
		metrics: m,
	}
}

func (svc *KavenegarService) SendMessages(messages ...*core.SMSMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(svc.conf); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering sms: %v", err), err)
				return
			}
			if msg.HasRecipients() && msg.HasContent() {
				err := svc.send(*msg)
				if err != nil {
					svc.logger.Error(fmt.Sprintf("sending sms: %v", err), err)
				}
				svc.metrics.IncSMSSent(msg.TemplateName, err == nil)
			}
		}()
	}
}

func (svc *KavenegarService) request(msg core.SMSMessage) rest.Request {
	form := url.Values{
		"receptor": {strings.Join(msg.To, ",")},
		"message":  {msg.Content},
	}
	if svc.sender != "" {
		form.Set("sender", svc.sender)
	}
	return rest.Request{
		Method:  rest.Post,
		BaseURL: svc.baseURL + "/v1/" + url.PathEscape(svc.apiKey) + "/sms/send.json",
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	}
}

func (svc *KavenegarService) send(msg core.SMSMessage) error {
	res, err := rest.Send(svc.request(msg))
	if err != nil {
		return errors.Wrap(err, "calling sms gateway")
	}

	var kr kavenegarResponse
	if err = json.Unmarshal([]byte(res.Body), &kr); err != nil && res.StatusCode < http.StatusBadRequest {
		return errors.Wrap(err, "decoding sms gateway response")
	}
	if res.StatusCode >= http.StatusBadRequest || (kr.Return.Status != 0 && kr.Return.Status != http.StatusOK) {
		return errors.Errorf("sms gateway - status: %d - message: %s", res.StatusCode, kr.Return.Message)
	}
	return nil
}
