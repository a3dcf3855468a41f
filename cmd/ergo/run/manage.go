package run

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/flarebyte/ergo/internal/config"
)

// ListCache prints the cached commands of the session's mode.
func (s *Session) ListCache(w io.Writer) error {
	recs, err := s.Store.List()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintf(w, "no cached commands in %s mode\n", s.Config.Mode)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREVISION\tAPPROVED\tUSES\tPERMISSIONS\tDESCRIPTION")
	for _, r := range recs {
		approved := "no"
		if r.Approved() {
			approved = "yes"
		}
		perms := strings.Join(r.Permissions, ",")
		if perms == "" {
			perms = "-"
		}
		desc := r.Explanation
		if desc == "" {
			desc = r.Intent
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n", r.Name, r.Revision, approved, r.UsageCount, perms, desc)
	}
	return tw.Flush()
}

// RemoveCommand drops one cached command.
func (s *Session) RemoveCommand(w io.Writer, name string) error {
	ok, err := s.Store.Invalidate(name)
	if err != nil {
		return err
	}
	if !ok {
		return runExitError{code: exitCodeToolErr, msg: fmt.Sprintf("no cached command named '%s' in %s mode", name, s.Config.Mode)}
	}
	_, err = fmt.Fprintf(w, "removed '%s' from the %s cache\n", name, s.Config.Mode)
	return err
}

// ClearCache drops every cached command of the session's mode.
func (s *Session) ClearCache(w io.Writer) error {
	if err := s.Store.Clear(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "cleared the %s cache\n", s.Config.Mode)
	return err
}

// CacheStats prints a summary of the cache.
func (s *Session) CacheStats(w io.Writer) error {
	st, err := s.Store.Stats()
	if err != nil {
		return err
	}
	mostUsed := st.MostUsed
	if mostUsed == "" {
		mostUsed = "-"
	}
	fmt.Fprintf(w, "mode:      %s\n", st.Mode)
	fmt.Fprintf(w, "state:     %s (%s)\n", s.Location.Root, s.Location.Source)
	fmt.Fprintf(w, "cache:     %s\n", s.Store.Path())
	fmt.Fprintf(w, "commands:  %d\n", st.Total)
	fmt.Fprintf(w, "approved:  %d\n", st.Approved)
	fmt.Fprintf(w, "runs:      %d\n", st.TotalUsage)
	_, err = fmt.Fprintf(w, "most used: %s\n", mostUsed)
	return err
}

// ShowConfig prints the effective configuration.
func (s *Session) ShowConfig(w io.Writer) error {
	config.Describe(w, s.Config)
	_, err := fmt.Fprintf(w, "state:    %s (%s)\n", s.Location.Root, s.Location.Source)
	return err
}

// SetAPIKey stores key in the state directory's configuration file.
func (s *Session) SetAPIKey(w io.Writer, key string) error {
	path := s.Location.ConfigPath()
	if err := config.SaveAPIKey(path, key); err != nil {
		return err
	}
	s.Log.WithField("path", path).Info("api key saved")
	_, err := fmt.Fprintf(w, "API key saved to %s\n", path)
	return err
}
