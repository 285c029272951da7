package emailsvc

import (
	"net/http"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
)

type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (*recordingLogger) Debug(string, ...interface{}) {}
func (*recordingLogger) Info(string, ...interface{})  {}
func (*recordingLogger) Fatal(string, ...interface{}) {}

func (l *recordingLogger) Warn(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

type reply struct {
	status int
	err    error
}

func newTestSendgrid(logger *recordingLogger, replies ...reply) (*sendgridService, *int) {
	calls := 0
	svc := &sendgridService{
		key:        "key",
		from:       sgmail.NewEmail("Masomo", "noreply@masomo.test"),
		subjPrefix: "[Masomo] ",
		logger:     logger,
		attempts:   3,
		backoff:    0,
	}
	svc.api = func(req rest.Request) (*rest.Response, error) {
		r := replies[calls]
		calls++
		if r.err != nil {
			return nil, r.err
		}
		return &rest.Response{StatusCode: r.status, Body: http.StatusText(r.status)}, nil
	}
	return svc, &calls
}

func confirmation() core.EmailMessage {
	return core.EmailMessage{
		To:          []mail.Address{{Name: "Amani", Address: "amani@example.com"}},
		Bcc:         []mail.Address{{Address: "admissions@masomo.test"}},
		Subject:     "Application received",
		TextContent: "Thank you for applying.",
	}
}

func TestSendgridService_Deliver(t *testing.T) {
	tests := []struct {
		name      string
		replies   []reply
		wantCalls int
		wantErr   bool
		wantWarns int
	}{
		{name: "accepted", replies: []reply{{status: http.StatusAccepted}}, wantCalls: 1},
		{
			name:      "server error then accepted",
			replies:   []reply{{status: http.StatusBadGateway}, {status: http.StatusAccepted}},
			wantCalls: 2,
			wantWarns: 1,
		},
		{
			name:      "throttled and transport error then accepted",
			replies:   []reply{{status: http.StatusTooManyRequests}, {err: errors.New("connection reset")}, {status: http.StatusAccepted}},
			wantCalls: 3,
			wantWarns: 2,
		},
		{
			name:      "client error is final",
			replies:   []reply{{status: http.StatusBadRequest}, {status: http.StatusAccepted}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "gives up",
			replies:   []reply{{status: http.StatusServiceUnavailable}, {status: http.StatusServiceUnavailable}, {status: http.StatusServiceUnavailable}},
			wantCalls: 3,
			wantErr:   true,
			wantWarns: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			svc, calls := newTestSendgrid(logger, tt.replies...)

			err := svc.deliver(confirmation())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, *calls)
			assert.Len(t, logger.warns, tt.wantWarns)
		})
	}
}

func TestSendgridService_DeliverGivesUp(t *testing.T) {
	logger := &recordingLogger{}
	svc, _ := newTestSendgrid(logger, reply{status: 500}, reply{status: 500}, reply{status: 500})

	err := svc.deliver(confirmation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Contains(t, err.Error(), "status: 500")
}

func TestRecipients(t *testing.T) {
	msg := confirmation()
	msg.Cc = []mail.Address{{Address: "mentor@example.com"}}
	assert.Equal(t, "amani@example.com, mentor@example.com, admissions@masomo.test", recipients(msg))
	assert.Equal(t, "", recipients(core.EmailMessage{}))
}

func TestSendgridService_SendMessagesLogsFailure(t *testing.T) {
	logger := &recordingLogger{}
	svc, _ := newTestSendgrid(logger, reply{status: http.StatusUnauthorized})

	msg := confirmation()
	svc.SendMessages(&msg)

	assert.Eventually(t, func() bool {
		logger.mu.Lock()
		defer logger.mu.Unlock()
		return len(logger.errors) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, logger.errors[0], `"Application received"`)
	assert.Contains(t, logger.errors[0], "amani@example.com")
}
