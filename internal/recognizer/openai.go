package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"skald/internal/models"
)

// transcriptionClient is the slice of the go-openai client used here.
type transcriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Ensure OpenAIRecognizer implements Recognizer
var _ Recognizer = (*OpenAIRecognizer)(nil)

// OpenAIRecognizer transcribes with the Whisper API. The whole file is sent in
// one request; each timed segment of the verbose response becomes an utterance.
type OpenAIRecognizer struct {
	defaultKey string
	model      string
	newClient  func(apiKey, baseURL string) transcriptionClient
}

func NewOpenAIRecognizer(defaultKey, model string) *OpenAIRecognizer {
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIRecognizer{
		defaultKey: defaultKey,
		model:      model,
		newClient: func(apiKey, baseURL string) transcriptionClient {
			cfg := openai.DefaultConfig(apiKey)
			if baseURL != "" {
				cfg.BaseURL = strings.TrimRight(baseURL, "/")
			}
			return openai.NewClientWithConfig(cfg)
		},
	}
}

func (r *OpenAIRecognizer) Recognize(ctx context.Context, audioPath string, params models.RecognitionParams) (<-chan Event, error) {
	key := params.APIKey
	if key == "" {
		key = r.defaultKey
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no OpenAI API key", models.ErrConfig)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInput, err)
	}

	client := r.newClient(key, params.Endpoint)
	req := openai.AudioRequest{
		Model:    r.model,
		FilePath: audioPath,
		Language: isoLanguage(params.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		resp, err := client.CreateTranscription(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(ctx, events, Event{Type: EventCanceled, Err: classifyOpenAIError(err)})
			return
		}

		for _, u := range openAIUtterances(resp) {
			if !send(ctx, events, Event{Type: EventRecognized, Text: u}) {
				return
			}
		}
		send(ctx, events, Event{Type: EventSessionStopped})
	}()

	log.WithFields(log.Fields{"provider": "openai", "model": r.model, "key": models.MaskKey(key)}).Debug("Recognition session started")
	return events, nil
}

func openAIUtterances(resp openai.AudioResponse) []string {
	var out []string
	for _, seg := range resp.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = SplitUtterances(resp.Text)
	}
	return out
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return classifyStatus(status, err)
}

func classifyStatus(status int, err error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", models.ErrConfig, err)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	return fmt.Errorf("%w: %v", models.ErrTransient, err)
}
