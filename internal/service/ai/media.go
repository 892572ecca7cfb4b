package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"curiousminds/internal/audio"
)

const maxSpeechRunes = 1000

var (
	speechStripRe = regexp.MustCompile("[*#_~`>\\[\\]()/\\\\|]")
	spaceRe       = regexp.MustCompile(`\s+`)
)

// sanitizeSpeech drops markdown punctuation the TTS model would read aloud.
func sanitizeSpeech(text string) string {
	text = speechStripRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	if r := []rune(text); len(r) > maxSpeechRunes {
		text = string(r[:maxSpeechRunes])
	}
	return text
}

// Speech reads text aloud and returns a WAV data url. Blank text yields "".
func (s *Service) Speech(ctx context.Context, text, language string) (string, error) {
	safe := sanitizeSpeech(text)
	if safe == "" {
		return "", nil
	}
	if s.media == nil {
		return "", ErrNotConfigured
	}
	language = orDefault(language, "English")

	prompt := fmt.Sprintf("Speak the following clearly in %s: %s", language, safe)
	resp, err := s.media.GenerateContent(ctx, s.speechModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate speech: %w", err)
	}
	blob := firstInlineData(resp)
	if blob == nil || len(blob.Data) == 0 {
		s.logger.Warn("speech response had no audio", zap.String("model", s.speechModel))
		return "", nil
	}
	return audio.WAVEncoder{SampleRate: pcmRate(blob.MIMEType), Channels: 1}.Encode(blob.MIMEType, blob.Data)
}

// pcmRate reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000".
func pcmRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(param), "rate="); ok {
			if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return audio.DefaultPCMRate
}

// MissionImage sketches prompt as a whiteboard diagram and returns the first image
// as a data url, or "" when the model returned none.
func (s *Service) MissionImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	if s.media == nil {
		return "", ErrNotConfigured
	}
	full := fmt.Sprintf("A clean, academic whiteboard sketch or schematic diagram of: %s. High clarity, minimalist, technical drawing style. Wide 16:9 framing.", prompt)
	resp, err := s.media.GenerateContent(ctx, s.imageModel, genai.Text(full), nil)
	if err != nil {
		return "", fmt.Errorf("generate mission image: %w", err)
	}
	blob := firstInlineData(resp)
	if blob == nil || len(blob.Data) == 0 {
		return "", nil
	}
	return "data:" + blob.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data), nil
}

func firstInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}
