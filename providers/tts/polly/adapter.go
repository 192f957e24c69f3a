// Package polly synthesizes speech through Amazon Polly. It is the standard
// voice tier; tenants with the premium voice flag go to ElevenLabs instead.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	pollysdk "github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/liberty/conversation-pipeline/providers/tts"
)

const ProviderName = "amazon-polly"

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *pollysdk.SynthesizeSpeechInput, optFns ...func(*pollysdk.Options)) (*pollysdk.SynthesizeSpeechOutput, error)
}

// Config controls the Polly adapter.
type Config struct {
	Region  string
	Engine  string
	Timeout time.Duration
	// Voices maps primary language subtags to Polly voice ids.
	Voices       map[string]string
	DefaultVoice string
}

func defaultVoices() map[string]string {
	return map[string]string{
		"ja": "Takumi",
		"en": "Joanna",
		"zh": "Zhiyu",
		"ko": "Seoyeon",
	}
}

// ConfigFromEnv reads the adapter configuration from the environment.
func ConfigFromEnv() Config {
	return Config{
		Region: defaultString(os.Getenv("LIBERTY_TTS_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "ap-northeast-1")),
		Engine: defaultString(os.Getenv("LIBERTY_TTS_POLLY_ENGINE"), "neural"),
	}
}

// Provider is the Polly-backed synthesizer.
type Provider struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

// New constructs a provider that lazily builds its AWS client from the
// default credential chain.
func New(cfg Config) *Provider {
	return NewWithClient(cfg, nil)
}

// NewWithClient injects the Polly client; tests use a fake.
func NewWithClient(cfg Config, client synthClient) *Provider {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ap-northeast-1"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Voices == nil {
		cfg.Voices = defaultVoices()
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = "Takumi"
	}
	return &Provider{client: client, cfg: cfg}
}

func (p *Provider) Name() string { return ProviderName }

// Synthesize converts req.Text to MP3 audio in the voice mapped to the
// request locale.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.NewError(ProviderName, tts.KindRejected, 0, "empty text", nil)
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, tts.NewError(ProviderName, tts.KindUnavailable, 0, "aws config", err)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	output, err := client.SynthesizeSpeech(ctx, &pollysdk.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &req.Text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.voiceFor(req.Locale)),
	})
	if err != nil {
		cancel()
		return nil, classifyError(err)
	}
	if output == nil || output.AudioStream == nil {
		cancel()
		return nil, tts.NewError(ProviderName, tts.KindUnavailable, 0, "empty audio stream", nil)
	}
	return &cancelOnClose{ReadCloser: output.AudioStream, cancel: cancel}, nil
}

// cancelOnClose ties the request timeout to the audio stream's lifetime.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func (p *Provider) voiceFor(locale string) string {
	if voice, ok := p.cfg.Voices[tts.PrimaryLanguage(locale)]; ok {
		return voice
	}
	return p.cfg.DefaultVoice
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return tts.NewError(ProviderName, tts.KindRejected, 0, "cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tts.NewError(ProviderName, tts.KindUnavailable, 0, "timeout", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return tts.NewError(ProviderName, tts.KindUnavailable, 429, apiErr.ErrorMessage(), err)
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return tts.NewError(ProviderName, tts.KindRejected, 400, apiErr.ErrorMessage(), err)
		default:
			return tts.NewError(ProviderName, tts.KindUnavailable, 500, apiErr.ErrorMessage(), err)
		}
	}
	return tts.NewError(ProviderName, tts.KindUnavailable, 0, "transport error", err)
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (p *Provider) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = pollysdk.NewFromConfig(awsCfg)
	return p.client, nil
}
