package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/txn"
)

func TestDescribeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome *backend.Outcome
		want    string
	}{
		{name: "nil means planned", outcome: nil, want: "planned"},
		{
			name:    "message wins",
			outcome: &backend.Outcome{Kind: backend.OutcomeSuccess, Backend: "apt", Message: "installed ripgrep 14.1.0"},
			want:    "installed ripgrep 14.1.0 (apt)",
		},
		{
			name:    "already satisfied",
			outcome: &backend.Outcome{Kind: backend.OutcomeAlreadySatisfied, Backend: "brew"},
			want:    "already satisfied (brew)",
		},
		{
			name:    "kind fallback",
			outcome: &backend.Outcome{Kind: backend.OutcomeSuccess, Backend: "dnf"},
			want:    "success (dnf)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeOutcome(tt.outcome); got != tt.want {
				t.Errorf("describeOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderResult(t *testing.T) {
	res := &engine.Result{
		Action: action.Action{
			Kind:    action.KindInstall,
			Targets: []action.Target{{Name: "jq"}, {Name: "ripgrep"}},
		},
		TxID: "tx-123",
		Steps: []engine.Step{
			{
				Target:  action.Target{Name: "jq"},
				Backend: "apt",
				Outcome: &backend.Outcome{Kind: backend.OutcomeSuccess, Backend: "apt", Message: "installed jq 1.7"},
			},
			{
				Target:  action.Target{Name: "ripgrep"},
				Backend: "apt",
				Outcome: &backend.Outcome{Kind: backend.OutcomeAlreadySatisfied, Backend: "apt"},
			},
		},
		Duration: 1234 * time.Millisecond,
	}

	var buf bytes.Buffer
	renderResult(&buf, res)
	out := buf.String()

	for _, want := range []string{
		"jq: installed jq 1.7 (apt)",
		"ripgrep: already satisfied (apt)",
		"install completed in 1.234s (transaction tx-123)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("renderResult() output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderResultPlanned(t *testing.T) {
	res := &engine.Result{
		Action: action.Action{
			Kind:    action.KindInstall,
			Targets: []action.Target{{Name: "jq", Constraint: "1.7"}},
		},
		Steps: []engine.Step{
			{Target: action.Target{Name: "jq", Constraint: "1.7"}, Backend: "brew"},
		},
		Planned: true,
	}

	var buf bytes.Buffer
	renderResult(&buf, res)
	out := buf.String()

	if !strings.Contains(out, "plan: install jq@1.7") {
		t.Errorf("renderResult() plan header missing:\n%s", out)
	}
	if !strings.Contains(out, "jq@1.7 via brew") {
		t.Errorf("renderResult() plan step missing:\n%s", out)
	}
	if strings.Contains(out, "completed in") {
		t.Errorf("renderResult() printed a completion footer for a plan:\n%s", out)
	}
}

func TestRenderResultBareUpdate(t *testing.T) {
	res := &engine.Result{
		Action: action.Action{Kind: action.KindUpdate},
		TxID:   "tx-9",
		Steps: []engine.Step{
			{Outcome: &backend.Outcome{Kind: backend.OutcomeSuccess, Backend: "apt", Message: "upgraded 12 packages"}},
		},
	}

	var buf bytes.Buffer
	renderResult(&buf, res)

	if !strings.Contains(buf.String(), "everything: upgraded 12 packages (apt)") {
		t.Errorf("renderResult() did not label the bare target:\n%s", buf.String())
	}
}

func TestRenderPackages(t *testing.T) {
	packages := []backend.Package{
		{Name: "ripgrep", Version: "14.1.0", Backend: "apt", Description: "line-oriented search"},
		{Name: "jq", Version: "1.7", Backend: "brew", Description: "JSON processor"},
	}

	var buf bytes.Buffer
	renderPackages(&buf, packages, false)
	out := buf.String()

	if !strings.Contains(out, "NAME") || !strings.Contains(out, "DESCRIPTION") {
		t.Errorf("renderPackages() missing header:\n%s", out)
	}
	for _, want := range []string{"ripgrep", "14.1.0", "line-oriented search", "jq", "brew"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderPackages() missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPackagesWithLocation(t *testing.T) {
	packages := []backend.Package{
		{Name: "ripgrep", Backend: "apt", Location: "/usr/bin/rg"},
	}

	var buf bytes.Buffer
	renderPackages(&buf, packages, true)
	out := buf.String()

	if !strings.Contains(out, "LOCATION") {
		t.Errorf("renderPackages() missing location header:\n%s", out)
	}
	if !strings.Contains(out, "/usr/bin/rg") {
		t.Errorf("renderPackages() missing location value:\n%s", out)
	}
	if strings.Contains(out, "VERSION") {
		t.Errorf("renderPackages() location table should not carry a version column:\n%s", out)
	}
}

func TestRenderHistory(t *testing.T) {
	txs := []*txn.Transaction{
		{
			ID:        "tx-2",
			Operation: "install jq",
			Status:    txn.StatusCommitted,
			StartedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			Effects:   []txn.Effect{{}, {}},
		},
		{
			ID:        "tx-1",
			Operation: "remove curl",
			Status:    txn.StatusRolledBack,
			StartedAt: time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	renderHistory(&buf, txs)
	out := buf.String()

	for _, want := range []string{"tx-2", "committed", "install jq", "tx-1", "rolled_back", "remove curl"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderHistory() missing %q:\n%s", want, out)
		}
	}

	// Two rows plus the header.
	if lines := strings.Count(strings.TrimRight(out, "\n"), "\n") + 1; lines != 3 {
		t.Errorf("renderHistory() printed %d lines, want 3:\n%s", lines, out)
	}
}
