package recognizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"skald/internal/models"
)

const geminiPrompt = "Transcribe this audio verbatim%s. Output only the spoken words as plain text, without timestamps, speaker labels or commentary."

// textStream yields chunks of generated text until iterator.Done.
type textStream interface {
	Next() (string, error)
}

type streamOpener func(ctx context.Context, apiKey, endpoint, model string, audio []byte, prompt string) (textStream, func(), error)

// Ensure GeminiRecognizer implements Recognizer
var _ Recognizer = (*GeminiRecognizer)(nil)

// GeminiRecognizer transcribes by streaming a Gemini generation over the inline
// WAV. Streamed text is cut into sentences as it arrives.
type GeminiRecognizer struct {
	defaultKey string
	model      string
	open       streamOpener
}

func NewGeminiRecognizer(defaultKey, model string) *GeminiRecognizer {
	return &GeminiRecognizer{defaultKey: defaultKey, model: model, open: openGeminiStream}
}

func (r *GeminiRecognizer) Recognize(ctx context.Context, audioPath string, params models.RecognitionParams) (<-chan Event, error) {
	key := params.APIKey
	if key == "" {
		key = r.defaultKey
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no Gemini API key", models.ErrConfig)
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInput, err)
	}

	lang := ""
	if params.Language != "" {
		lang = " in language " + params.Language
	}
	stream, closeFn, err := r.open(ctx, key, params.Endpoint, r.model, audio, fmt.Sprintf(geminiPrompt, lang))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer closeFn()

		var buf string
		for {
			chunk, err := stream.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, events, Event{Type: EventCanceled, Err: classifyGeminiError(err)})
				return
			}
			var done []string
			done, buf = splitComplete(buf + chunk)
			for _, u := range done {
				if !send(ctx, events, Event{Type: EventRecognized, Text: u}) {
					return
				}
			}
		}
		for _, u := range SplitUtterances(buf) {
			if !send(ctx, events, Event{Type: EventRecognized, Text: u}) {
				return
			}
		}
		send(ctx, events, Event{Type: EventSessionStopped})
	}()

	log.WithFields(log.Fields{"provider": "gemini", "model": r.model, "key": models.MaskKey(key)}).Debug("Recognition session started")
	return events, nil
}

type geminiStream struct {
	it *genai.GenerateContentResponseIterator
}

func (s geminiStream) Next() (string, error) {
	resp, err := s.it.Next()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String(), nil
}

func openGeminiStream(ctx context.Context, apiKey, endpoint, model string, audio []byte, prompt string) (textStream, func(), error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(0)
	it := m.GenerateContentStream(ctx, genai.Blob{MIMEType: "audio/wav", Data: audio}, genai.Text(prompt))
	return geminiStream{it: it}, func() { _ = client.Close() }, nil
}

func classifyGeminiError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(gErr.Code, err)
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %v", models.ErrConfig, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %v", models.ErrInput, err)
	}
	return fmt.Errorf("%w: %v", models.ErrTransient, err)
}
