package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flarebyte/ergo/internal/logging"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a remote generation when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Transport sends a prompt to a model and returns its raw text answer.
type Transport interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

func init() {
	Register("remote", func(opts Options) (Generator, error) {
		if opts.APIKey == "" {
			return nil, newError(KindMissingCredential, "remote", "no API key for provider %q", providerOrDefault(opts.Provider))
		}
		t, err := newTransport(opts)
		if err != nil {
			return nil, err
		}
		return NewRemote(t, opts), nil
	})
}

func providerOrDefault(p string) string {
	if p == "" {
		return ProviderAnthropic
	}
	return p
}

func newTransport(opts Options) (Transport, error) {
	switch providerOrDefault(opts.Provider) {
	case ProviderAnthropic:
		return newAnthropicTransport(opts), nil
	case ProviderGemini:
		return newGeminiTransport(opts)
	}
	return nil, fmt.Errorf("unknown provider %q", opts.Provider)
}

// Remote asks a language model for a candidate and validates the answer.
type Remote struct {
	transport Transport
	opts      Options
	log       logrus.FieldLogger
}

// NewRemote wraps a transport.
func NewRemote(t Transport, opts Options) *Remote {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Remote{transport: t, opts: opts, log: log}
}

func (r *Remote) Generate(ctx context.Context, intent Intent, correction *Correction) (Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	text, err := r.transport.Complete(ctx, buildPrompt(intent, correction))
	r.log.WithFields(logrus.Fields{
		"intent":   intent.Text,
		"provider": providerOrDefault(r.opts.Provider),
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}).Debug("remote generation")
	if err != nil {
		var ge *Error
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Candidate{}, &Error{Kind: KindTimeout, Backend: "remote", Err: err}
		case errors.As(err, &ge):
			return Candidate{}, err
		default:
			return Candidate{}, &Error{Kind: KindUnavailable, Backend: "remote", Err: err}
		}
	}
	d, err := decodePayload(text)
	if err != nil {
		return Candidate{}, &Error{Kind: KindInvalidResponse, Backend: "remote", Err: err}
	}
	if !intent.FreeForm {
		d.Name = intent.Name
	}
	return finalize("remote", d, r.opts.Allow)
}
