package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// recordingInverter captures package and repository inversions in call
// order and fails the packages listed in failPackages.
type recordingInverter struct {
	inverted     []string
	failPackages map[string]bool
}

func (r *recordingInverter) Invert(_ context.Context, eff Effect) error {
	name := eff.Package
	if eff.Type == EffectRepositoryAdded {
		name = eff.RepoID
	}
	if r.failPackages[name] {
		return fmt.Errorf("simulated inversion failure for %s", name)
	}
	r.inverted = append(r.inverted, name)
	return nil
}

func TestRollbackInvertsInReverseOrder(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	tx, err := j.Begin("install toolchain")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, pkg := range []string{"first", "second", "third"} {
		if err := j.Record(tx, NewPackageInstalled("apt", pkg, "1.0")); err != nil {
			t.Fatalf("Record(%s) error = %v", pkg, err)
		}
	}

	inv := &recordingInverter{}
	report, err := j.Rollback(ctx, tx, inv)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	want := []string{"third", "second", "first"}
	if len(inv.inverted) != len(want) {
		t.Fatalf("inverted %d effects, want %d", len(inv.inverted), len(want))
	}
	for i, name := range want {
		if inv.inverted[i] != name {
			t.Errorf("inversion[%d] = %s, want %s", i, inv.inverted[i], name)
		}
	}

	if !report.Complete() {
		t.Errorf("report not complete: %+v", report)
	}
	if tx.Status != StatusRolledBack {
		t.Errorf("status = %s, want %s", tx.Status, StatusRolledBack)
	}
}

func TestRollbackContinuesPastFailures(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	tx, err := j.Begin("install toolchain")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, pkg := range []string{"alpha", "beta", "gamma"} {
		if err := j.Record(tx, NewPackageInstalled("dnf", pkg, "2.0")); err != nil {
			t.Fatalf("Record(%s) error = %v", pkg, err)
		}
	}

	inv := &recordingInverter{failPackages: map[string]bool{"beta": true}}
	report, err := j.Rollback(ctx, tx, inv)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	// gamma and alpha still inverted even though beta failed between them.
	if len(inv.inverted) != 2 {
		t.Fatalf("inverted %d effects, want 2: %v", len(inv.inverted), inv.inverted)
	}
	if inv.inverted[0] != "gamma" || inv.inverted[1] != "alpha" {
		t.Errorf("inverted = %v, want [gamma alpha]", inv.inverted)
	}

	if report.Complete() {
		t.Error("report claims complete despite a failure")
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(report.Failures))
	}
	if report.Failures[0].Effect.Package != "beta" {
		t.Errorf("failed effect = %s, want beta", report.Failures[0].Effect.Package)
	}
	if tx.Status != StatusFailed {
		t.Errorf("status = %s, want %s", tx.Status, StatusFailed)
	}
	if !strings.Contains(report.String(), "beta") {
		t.Errorf("report string does not name the failed effect: %s", report.String())
	}
}

func TestRollbackRemovesCreatedFiles(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	created := filepath.Join(t.TempDir(), "dropped.list")
	if err := os.WriteFile(created, []byte("deb http://example.org stable main\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tx, err := j.Begin("add repository")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Record(tx, NewFileCreated(created)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	report, err := j.Rollback(ctx, tx, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %+v", report)
	}
	if _, err := os.Stat(created); !os.IsNotExist(err) {
		t.Errorf("created file still exists after rollback")
	}
}

func TestRollbackRemovesCreatedTrees(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "languages", "node", "20.11.1")
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "node"), []byte("elf"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tx, err := j.Begin("install node 20.11.1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Record(tx, NewFileCreated(root)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	report, err := j.Rollback(ctx, tx, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %+v", report)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("created tree still exists after rollback")
	}
}

func TestRollbackRestoresModifiedFiles(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "sources.list")
	if err := os.WriteFile(target, []byte("before"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tx, err := j.Begin("edit sources")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	eff, err := j.BackupFile(tx, target)
	if err != nil {
		t.Fatalf("BackupFile() error = %v", err)
	}
	if err := j.Record(tx, eff); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if err := os.WriteFile(target, []byte("after"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	report, err := j.Rollback(ctx, tx, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %+v", report)
	}

	restored, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(restored) != "before" {
		t.Errorf("restored content = %q, want %q", restored, "before")
	}
}

func TestRollbackReportsCorruptBackup(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	target := filepath.Join(t.TempDir(), "conf")
	if err := os.WriteFile(target, []byte("before"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tx, err := j.Begin("edit conf")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	eff, err := j.BackupFile(tx, target)
	if err != nil {
		t.Fatalf("BackupFile() error = %v", err)
	}
	if err := j.Record(tx, eff); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Corrupt the backup so the checksum no longer matches.
	if err := os.WriteFile(eff.BackupPath, []byte("tampered"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	report, err := j.Rollback(ctx, tx, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if report.Complete() {
		t.Error("rollback restored from a corrupt backup")
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(report.Failures))
	}
	if tx.Status != StatusFailed {
		t.Errorf("status = %s, want %s", tx.Status, StatusFailed)
	}
}

func TestRollbackRejectsRolledBackTransaction(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	tx, err := j.Begin("install jq")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := j.Rollback(ctx, tx, &recordingInverter{}); err != nil {
		t.Fatalf("first Rollback() error = %v", err)
	}

	if _, err := j.Rollback(ctx, tx, &recordingInverter{}); err == nil {
		t.Error("second Rollback() = nil, want error")
	}
}

func TestRollbackOfCommittedTransaction(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	tx, err := j.Begin("install jq")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Record(tx, NewPackageInstalled("apt", "jq", "1.7")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := j.Commit(tx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	inv := &recordingInverter{}
	report, err := j.Rollback(ctx, tx, inv)
	if err != nil {
		t.Fatalf("Rollback() of committed transaction error = %v", err)
	}
	if !report.Complete() {
		t.Errorf("report not complete: %+v", report)
	}
	if tx.Status != StatusRolledBack {
		t.Errorf("status = %s, want %s", tx.Status, StatusRolledBack)
	}
}

func TestRollbackPackageEffectWithoutInverter(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	tx, err := j.Begin("install jq")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Record(tx, NewPackageInstalled("apt", "jq", "1.7")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	report, err := j.Rollback(ctx, tx, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if report.Complete() {
		t.Error("package effect inverted without an inverter")
	}
}

func TestRecoverRollsBackPendingTransactions(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir, nil)
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	ctx := context.Background()

	// Simulate a crash: a pending transaction with a recorded effect
	// whose process never reached Commit or Rollback.
	tx, err := j.Begin("interrupted install")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Record(tx, NewPackageInstalled("pacman", "ripgrep", "14.1.0")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	done, err := j.Begin("finished install")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := j.Commit(done); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// A fresh journal over the same directory, as on process startup.
	restarted, err := NewJournal(dir, nil)
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}

	inv := &recordingInverter{}
	reports, err := restarted.Recover(ctx, inv)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Recover() produced %d reports, want 1", len(reports))
	}
	if reports[0].TransactionID != tx.ID {
		t.Errorf("recovered transaction = %s, want %s", reports[0].TransactionID, tx.ID)
	}
	if len(inv.inverted) != 1 || inv.inverted[0] != "ripgrep" {
		t.Errorf("inverted = %v, want [ripgrep]", inv.inverted)
	}

	pending, err := restarted.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d transactions still pending after recovery", len(pending))
	}
}

func TestRecoverWithNothingPending(t *testing.T) {
	j := setupTestJournal(t)

	reports, err := j.Recover(context.Background(), &recordingInverter{})
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("Recover() produced %d reports on a clean journal", len(reports))
	}
}

func TestRollbackHonorsContextCancellation(t *testing.T) {
	j := setupTestJournal(t)

	tx, err := j.Begin("install toolchain")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	for _, pkg := range []string{"one", "two"} {
		if err := j.Record(tx, NewPackageInstalled("apt", pkg, "1.0")); err != nil {
			t.Fatalf("Record(%s) error = %v", pkg, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := j.Rollback(ctx, tx, &recordingInverter{})
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	// Cancelled context shows up as inversion failures, not silence.
	if report.Complete() {
		t.Error("rollback reported complete under a cancelled context")
	}
	if len(report.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(report.Failures))
	}
	for _, f := range report.Failures {
		if !strings.Contains(f.Reason, context.Canceled.Error()) {
			t.Errorf("failure reason %q does not reflect cancellation", f.Reason)
		}
	}
	if tx.Status != StatusFailed {
		t.Errorf("status = %s, want %s", tx.Status, StatusFailed)
	}
}
