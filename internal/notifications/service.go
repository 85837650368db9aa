package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autorip/internal/config"
	"autorip/internal/retry"
)

const userAgent = "autorip/0.1.0"

// Service is the notification surface used by the run loop.
type Service interface {
	NotifyRunStarted(ctx context.Context, drives int) error
	NotifyRunCompleted(ctx context.Context, discs, failedDrives int, duration time.Duration) error
	NotifyDriveStopped(ctx context.Context, drive int, device string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		policy:   retry.Fixed(3, 2*time.Second),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	policy   retry.Config
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, drives int) error {
	return n.send(ctx, payload{
		title:   "Autorip - Run Started",
		message: fmt.Sprintf("Imaging started on %d drives", drives),
		tags:    []string{"autorip", "run", "started"},
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, discs, failedDrives int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	data := payload{
		title:   "Autorip - Run Complete",
		message: fmt.Sprintf("Imaged %d discs in %s", discs, duration),
		tags:    []string{"autorip", "run", "completed"},
	}
	if failedDrives > 0 {
		data.title = "Autorip - Run Complete (with errors)"
		data.message = fmt.Sprintf("Imaged %d discs in %s; %d drives stopped on errors", discs, duration, failedDrives)
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDriveStopped(ctx context.Context, drive int, device string, err error) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Drive %d", drive)
	if device = strings.TrimSpace(device); device != "" {
		fmt.Fprintf(&builder, " (%s)", device)
	}
	builder.WriteString(" stopped: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown error")
	}

	return n.send(ctx, payload{
		title:    "Autorip - Drive Stopped",
		message:  builder.String(),
		tags:     []string{"autorip", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Autorip - Test",
		message:  "Notification system test",
		tags:     []string{"autorip", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	return retry.Do(ctx, n.policy, func(int) error {
		return n.post(ctx, data)
	})
}

// post delivers one notification. Client errors are not retried.
func (n *ntfyService) post(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("build ntfy request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 {
			return retry.NonRetryable(err)
		}
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int) error                       { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyDriveStopped(context.Context, int, string, error) error      { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
