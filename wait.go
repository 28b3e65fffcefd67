package teaclave_client

import (
	"context"
	"errors"
	"time"
)

// DefaultPollInterval matches the one second polling of the reference
// SDKs.
const DefaultPollInterval = time.Second

// WaitForResult polls GetTaskResult until the task finishes, fails, or
// ctx is done. Only ErrTaskNotReady is retried; every other error is
// returned as is. GetTaskResult itself never waits.
func WaitForResult(ctx context.Context, fs *FrontendSession, id TaskID, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := fs.GetTaskResult(ctx, id)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrTaskNotReady) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", wrapError(KindGetTaskResult, ctx.Err())
		case <-ticker.C:
		}
	}
}
