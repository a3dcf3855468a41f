package version

import (
	"encoding/json"
	"io"
	"runtime"
	"time"

	"github.com/flarebyte/ergo/internal/buildinfo"
	"github.com/flarebyte/ergo/internal/generator"
)

// info is the --json document. Generators lists the backends compiled in.
type info struct {
	Version    string   `json:"version"`
	Commit     string   `json:"commit"`
	Date       string   `json:"date"`
	BuiltBy    string   `json:"built_by"`
	Go         string   `json:"go"`
	OS         string   `json:"go_os"`
	Arch       string   `json:"go_arch"`
	Generators []string `json:"generators"`
	Timestamp  string   `json:"timestamp"`
}

func currentInfo(now time.Time) info {
	return info{
		Version:    buildinfo.Version,
		Commit:     buildinfo.Commit,
		Date:       buildinfo.Date,
		BuiltBy:    buildinfo.BuiltBy,
		Go:         runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Generators: generator.Names(),
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	}
}

func writeInfo(w io.Writer, v info) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
