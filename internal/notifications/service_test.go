package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"autorip/internal/config"
	"autorip/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunStarted(context.Background(), 4); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "run started",
			send:          func(s notifications.Service) error { return s.NotifyRunStarted(context.Background(), 4) },
			expectTitle:   "Autorip - Run Started",
			expectMessage: "Imaging started on 4 drives",
			expectTags:    "autorip,run,started",
		},
		{
			name: "run completed",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), 212, 0, 5*time.Hour+1500*time.Millisecond)
			},
			expectTitle:   "Autorip - Run Complete",
			expectMessage: "Imaged 212 discs in 5h0m2s",
			expectTags:    "autorip,run,completed",
		},
		{
			name: "run completed with failures",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), 10, 1, time.Minute)
			},
			expectTitle:    "Autorip - Run Complete (with errors)",
			expectMessage:  "Imaged 10 discs in 1m0s; 1 drives stopped on errors",
			expectTags:     "autorip,run,completed",
			expectPriority: "high",
		},
		{
			name: "drive stopped",
			send: func(s notifications.Service) error {
				return s.NotifyDriveStopped(context.Background(), 2, "/dev/sr2", errors.New("robot fault persisted"))
			},
			expectTitle:    "Autorip - Drive Stopped",
			expectMessage:  "Drive 2 (/dev/sr2) stopped: robot fault persisted",
			expectTags:     "autorip,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeoutSeconds = 5

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("unexpected title: got %q want %q", captured.title, tc.expectTitle)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("unexpected message: got %q want %q", captured.body, tc.expectMessage)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("unexpected tags: got %q want %q", captured.tags, tc.expectTags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("unexpected priority: got %q want %q", captured.priority, tc.expectPriority)
			}
		})
	}
}

func TestNtfyServiceDoesNotRetryRejectedRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("unexpected request count: got %d want 1", got)
	}
}

func TestNtfyServiceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	if err := notifications.NewService(&cfg).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("unexpected request count: got %d want 2", got)
	}
}
