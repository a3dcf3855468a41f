// Package corrective regenerates an existing artifact in place from its last
// failure and the user's feedback.
package corrective

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flarebyte/ergo/internal/artifact"
	"github.com/flarebyte/ergo/internal/generator"
	"github.com/flarebyte/ergo/internal/logging"
	"github.com/sirupsen/logrus"
)

// ErrNoRecordToCorrect is returned when nothing is stored under the name.
var ErrNoRecordToCorrect = errors.New("no command to correct")

// Store is the part of the cache a correction reads and writes.
type Store interface {
	Get(name string) (artifact.Record, bool, error)
	Put(rec artifact.Record) error
}

type options struct {
	log logrus.FieldLogger
	now func() time.Time
}

// Option configures Correct.
type Option func(*options)

func WithLogger(l logrus.FieldLogger) Option { return func(o *options) { o.log = l } }
func WithClock(now func() time.Time) Option  { return func(o *options) { o.now = now } }

// Correct asks gen for a new revision of the record stored under name. The
// record keeps its name and intent; its approval and last stderr are
// dropped. A generator failure leaves the stored record as it was.
func Correct(ctx context.Context, store Store, gen generator.Generator, name, feedback string, opts ...Option) (artifact.Record, error) {
	o := options{log: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	rec, ok, err := store.Get(name)
	if err != nil {
		return artifact.Record{}, fmt.Errorf("read %s: %w", name, err)
	}
	if !ok {
		return artifact.Record{}, fmt.Errorf("%w: %s", ErrNoRecordToCorrect, name)
	}

	correction := &generator.Correction{
		PreviousScript: rec.Script,
		PreviousStderr: rec.LastStderr,
		Feedback:       strings.TrimSpace(feedback),
	}
	log := o.log.WithFields(logrus.Fields{"command": rec.Name, "mode": rec.Mode, "revision": rec.Revision})
	log.WithFields(logrus.Fields{
		"has_stderr":   correction.PreviousStderr != "",
		"has_feedback": correction.Feedback != "",
	}).Info("correcting")

	cand, err := gen.Generate(ctx, generator.Intent{Name: rec.Name, Text: rec.Intent}, correction)
	if err != nil {
		log.WithError(err).Warn("correction failed")
		return artifact.Record{}, err
	}
	next := rec.Revise(artifact.Content{
		Script:      cand.Script,
		Permissions: cand.Permissions,
		Explanation: cand.Explanation,
	}, o.now())
	if err := store.Put(next); err != nil {
		return artifact.Record{}, fmt.Errorf("store revision %d of %s: %w", next.Revision, name, err)
	}
	log.WithField("hash", next.ContentHash.String()).Info("corrected")
	return next, nil
}
