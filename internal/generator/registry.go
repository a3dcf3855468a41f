package generator

import (
	"net/http"
	"sort"
	"time"

	"github.com/flarebyte/ergo/internal/permission"
	"github.com/sirupsen/logrus"
)

// Options are shared by every backend factory.
type Options struct {
	// Allow restricts the permission kinds a candidate may request.
	Allow    []permission.Kind
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Logger   logrus.FieldLogger
	// HTTPClient overrides the client used by HTTP transports.
	HTTPClient *http.Client
}

// Factory builds a backend.
type Factory func(opts Options) (Generator, error)

var registry = map[string]Factory{}

// Register adds a backend factory under name.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds the backend registered under name.
func New(name string, opts Options) (Generator, error) {
	f, ok := registry[name]
	if !ok {
		return nil, ErrUnknown{name: name}
	}
	return f(opts)
}

// Names lists the registered backends.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ErrUnknown is returned when a backend is not registered.
type ErrUnknown struct{ name string }

func (e ErrUnknown) Error() string { return "unknown generator backend: " + e.name }
