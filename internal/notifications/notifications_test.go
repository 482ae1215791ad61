package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlackNotifier_SendAlert(t *testing.T) {
	// 1. Setup Mock Server
	var capturedPayload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/hooks/incoming-webhook", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&capturedPayload)
		assert.NoError(t, err)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	// 2. Create Notifier
	notifier := NewSlackNotifier(server.URL + "/services/hooks/incoming-webhook")

	// 3. Test SendAlert
	ctx := context.Background()
	err := notifier.SendAlert(ctx, "proj-123", "critical", "Something went wrong")

	// 4. Assertions
	assert.NoError(t, err)
	assert.Equal(t, "Export job proj-123", capturedPayload.Text)
	if assert.NotEmpty(t, capturedPayload.Attachments) {
		att := capturedPayload.Attachments[0]
		assert.Equal(t, "#ff0000", att.Color) // critical = red
		assert.Equal(t, "[critical] Alert", att.Title)
		assert.Equal(t, "Something went wrong", att.Text)
	}
}

func TestSlackNotifier_SendAlert_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.SendAlert(context.Background(), "proj", "info", "msg")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "slack api returned status: 500")
}

func TestSlackNotifier_WarningColor(t *testing.T) {
	var got slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).WithTimeout(time.Second).SendAlert(context.Background(), "job", SeverityWarning, "2 rows rejected")
	assert.NoError(t, err)
	if assert.Len(t, got.Attachments, 1) {
		assert.Equal(t, "#ffa500", got.Attachments[0].Color)
	}
}

func TestConsoleNotifier_NeverFails(t *testing.T) {
	n := &ConsoleNotifier{}
	assert.NoError(t, n.SendAlert(context.Background(), "job", SeverityInfo, "done"))
}
