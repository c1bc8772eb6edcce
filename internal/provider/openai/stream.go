package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cassandra/internal/provider"
	"cassandra/pkg/logger"
)

// ProcessStream processes an SSE stream in the OpenAI format.
// Each event is prefixed with "data: " and the stream ends with
// "data: [DONE]". The channel always ends with one done or error event,
// unless ctx is cancelled first.
func ProcessStream(ctx context.Context, reader io.ReadCloser, name string) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent, 32)

	go func() {
		defer close(events)
		defer reader.Close()

		emit := func(ev provider.ChatEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		var (
			finishReason string
			usage        *provider.Usage
		)

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			if data == "[DONE]" {
				emit(provider.ChatEvent{
					Type:         provider.EventTypeDone,
					FinishReason: finishReason,
					Usage:        usage,
				})
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Warn().Err(err).Str("provider", name).Msg("Malformed stream chunk")
				emit(provider.ChatEvent{
					Type: provider.EventTypeError,
					Error: provider.NewProviderError(provider.ErrCodeInvalidResponse,
						"malformed stream chunk: "+err.Error(), name, false),
				})
				return
			}

			if chunk.Error != nil {
				emit(provider.ChatEvent{
					Type: provider.EventTypeError,
					Error: provider.NewProviderError(provider.ErrCodeUnknown,
						fmt.Sprintf("[%s] %s", chunk.Error.Type, chunk.Error.Message), name, false),
				})
				return
			}

			if chunk.Usage != nil {
				usage = chunk.Usage.toProvider()
			}

			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !emit(provider.ChatEvent{
					Type:  provider.EventTypeContent,
					Delta: choice.Delta.Content,
				}) {
					return
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}

		err := scanner.Err()
		if err == nil {
			err = provider.NewProviderError(provider.ErrCodeInvalidResponse,
				"stream ended without [DONE]", name, false)
		} else if provider.IsTimeout(err) {
			err = provider.NewProviderError(provider.ErrCodeTimeout, err.Error(), name, true)
		} else if ctx.Err() != nil {
			return
		}
		logger.Warn().Err(err).Str("provider", name).Msg("Stream terminated abnormally")
		emit(provider.ChatEvent{
			Type:  provider.EventTypeError,
			Error: err,
		})
	}()

	return events
}
