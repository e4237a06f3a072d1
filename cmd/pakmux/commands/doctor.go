package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// check is one doctor probe result.
type check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func newDoctorCommand() *cobra.Command {
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that pakmux and its backends are healthy",
		Long: `Probe every backend, ping the state database, inspect the process
lock, and look for transactions awaiting recovery. Exits nonzero when
something is broken; an unavailable backend on a host that still has
others is only a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			checks := runChecks(cmd.Context(), app)

			if jsonOutput {
				if err := printJSON(checks); err != nil {
					return err
				}
			} else {
				renderChecks(os.Stdout, app, checks)
			}

			if showMetrics {
				if err := dumpMetrics(app); err != nil {
					return err
				}
			}

			for _, c := range checks {
				if c.Status == "fail" {
					return fmt.Errorf("doctor found problems")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "dump process metrics in Prometheus text format")

	return cmd
}

// runChecks probes every collaborator the commands depend on.
func runChecks(ctx context.Context, a *app) []check {
	var checks []check

	anyBackend := false
	for _, name := range a.registry.Priority() {
		avail := a.registry.Probe(ctx, name)
		c := check{Name: "backend " + name}
		switch {
		case avail.Available:
			anyBackend = true
			c.Status = "ok"
			c.Detail = avail.Version
		default:
			c.Status = "warn"
			c.Detail = avail.Reason
		}
		checks = append(checks, c)
	}
	if !anyBackend {
		checks = append(checks, check{
			Name:   "backends",
			Status: "fail",
			Detail: "no package manager backend is available on this host",
		})
	}

	c := check{Name: "state database", Status: "ok", Detail: a.cfg.StatePath()}
	if err := a.store.HealthCheck(ctx); err != nil {
		c.Status = "fail"
		c.Detail = err.Error()
	}
	checks = append(checks, c)

	c = check{Name: "process lock", Status: "ok", Detail: "free"}
	holder, err := a.lock.Holder()
	switch {
	case err != nil:
		c.Status = "fail"
		c.Detail = err.Error()
	case holder != nil:
		c.Status = "warn"
		c.Detail = fmt.Sprintf("held by pid %d on %s since %s",
			holder.PID, holder.Hostname, holder.StartedAt.Local().Format(time.RFC3339))
	}
	checks = append(checks, c)

	c = check{Name: "transaction journal", Status: "ok", Detail: "no pending transactions"}
	pending, err := a.engine.Pending()
	switch {
	case err != nil:
		c.Status = "fail"
		c.Detail = err.Error()
	case len(pending) > 0:
		c.Status = "warn"
		c.Detail = fmt.Sprintf("%d interrupted transactions await recovery", len(pending))
	}
	checks = append(checks, c)

	c = check{Name: "toolchains", Status: "ok", Detail: "none installed"}
	languages, err := a.store.Languages(ctx)
	switch {
	case err != nil:
		c.Status = "fail"
		c.Detail = err.Error()
	case len(languages) > 0:
		c.Detail = strings.Join(languages, ", ")
	}
	checks = append(checks, c)

	return checks
}

func renderChecks(w io.Writer, a *app, checks []check) {
	fmt.Fprintf(w, "data directory: %s\n\n", a.cfg.DataDir)
	tw := newTable(w)
	for _, c := range checks {
		status := c.Status
		if status == "fail" {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", status, c.Name, c.Detail)
	}
	tw.Flush()
}

// dumpMetrics writes the process's metric families in the Prometheus
// text exposition format.
func dumpMetrics(a *app) error {
	families, err := a.tel.Metrics.Gather()
	if err != nil {
		return err
	}
	if len(families) == 0 {
		fmt.Fprintln(os.Stderr, "metrics are disabled in the configuration")
		return nil
	}
	enc := expfmt.NewEncoder(os.Stdout, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
