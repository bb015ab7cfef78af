package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/warpdrive/accesslog/pkg/blobstore"
	"github.com/warpdrive/accesslog/pkg/config"
	"github.com/warpdrive/accesslog/pkg/dedup"
	"github.com/warpdrive/accesslog/pkg/ingest"
	"github.com/warpdrive/accesslog/pkg/normalize"
	"github.com/warpdrive/accesslog/pkg/record"
	"github.com/warpdrive/accesslog/pkg/report"
	"github.com/warpdrive/accesslog/pkg/source"
)

// testEnv holds one export directory and one store root shared by every
// run of a scenario, the way consecutive cron invocations share them.
type testEnv struct {
	exportDir string
	storeDir  string
	cfg       *config.Config
}

func newTestEnv(t *testing.T, storeType string) *testEnv {
	t.Helper()
	env := &testEnv{
		exportDir: t.TempDir(),
		storeDir:  t.TempDir(),
	}
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
source:
  type: local
  root: %s
store:
  type: %s
  path: %s
normalize:
  site_filter: all
`, env.exportDir, storeType, env.storeDir)))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	env.cfg = cfg
	return env
}

func (e *testEnv) writeExport(t *testing.T, name string, rows ...string) {
	t.Helper()
	body := strings.Join(rows, "\n")
	if len(rows) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(filepath.Join(e.exportDir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write export %s: %v", name, err)
	}
}

// run opens a fresh stack, performs one merge and closes everything again.
func (e *testEnv) run(t *testing.T, rc ingest.RunConfig) (*ingest.Result, []report.RunReport, error) {
	t.Helper()
	ctx := context.Background()

	store, err := blobstore.Open(blobstore.Options{
		Type:       e.cfg.Store.Type,
		Path:       e.cfg.Store.Path,
		SyncWrites: e.cfg.Store.Sync(),
	})
	if err != nil {
		t.Fatalf("blobstore.Open: %v", err)
	}
	defer store.Close()

	src, err := source.NewRclone(ctx, source.RcloneOptions{
		Name:   e.cfg.Source.Name,
		Type:   e.cfg.Source.Type,
		Root:   e.cfg.Source.Root,
		Suffix: e.cfg.Source.Suffix,
	})
	if err != nil {
		t.Fatalf("source.NewRclone: %v", err)
	}
	defer src.Close()

	fallback := e.cfg.Normalize.Fallback()
	n, err := normalize.New(normalize.Config{
		SizeFallback: &fallback,
		SiteFilter:   normalize.SiteFilter(e.cfg.Normalize.SiteFilter),
		Rules:        e.cfg.Normalize.RewriteRules,
	})
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}

	rep := report.NewMemoryEmitter()
	eng, err := ingest.New(ingest.Options{
		Store:      store,
		Source:     src,
		Normalizer: n,
		Keys:       ingest.Keys{Table: e.cfg.Store.Keys.Table, Ledger: e.cfg.Store.Keys.Ledger},
		Policy:     ingest.DuplicatePolicy(e.cfg.Ingest.DuplicatePolicy),
		Reporter:   rep,
	})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	res, err := eng.Run(ctx, rc)
	return res, rep.Reports(), err
}

func csvRow(ts int, path, size, category string) string {
	row := fmt.Sprintf("%d,job-%d,%s,%s,T2_ES_PIC,T1_ES_PIC,0.8,100,125", ts, ts, path, size)
	if category != "" {
		row += "," + category
	}
	return row
}

// ---- Pipeline tests ----

func TestE2E_IncrementalMerge(t *testing.T) {
	for _, storeType := range []string{"dir", "badger"} {
		t.Run(storeType, func(t *testing.T) {
			env := newTestEnv(t, storeType)
			env.writeExport(t, "2024-01-01.csv",
				csvRow(1704067200, "/store/data/Run2024A/Muon/RAW/v1/a.root", "100", "RAW"),
				csvRow(1704067300, "/store/mc/Sim/TTbar/b.root", "", ""),
			)
			env.writeExport(t, "notes.txt", "not an export")

			res, _, err := env.run(t, ingest.RunConfig{FirstRead: true})
			if err != nil {
				t.Fatalf("first run: %v", err)
			}
			if len(res.Table) != 2 {
				t.Fatalf("first run rows = %d, want 2", len(res.Table))
			}
			if got := res.Table[0].NamespaceRoot; got != "/store/data/.../RAW" {
				t.Errorf("RAW root = %q, want rewritten", got)
			}
			if got := res.Table[1].SizeBytes; got != normalize.DefaultSizeFallback {
				t.Errorf("missing size = %v, want %v", got, normalize.DefaultSizeFallback)
			}

			env.writeExport(t, "2024-01-02.csv",
				csvRow(1704153600, "/x/y", "7", ""),
				csvRow(1704153600, "/x/y", "8", ""),
				csvRow(1704067300, "/store/mc/Sim/TTbar/b.root", "5", ""),
			)
			res, reports, err := env.run(t, ingest.RunConfig{})
			if err != nil {
				t.Fatalf("second run: %v", err)
			}
			if len(res.NewSources) != 1 || res.NewSources[0] != "2024-01-02.csv" {
				t.Errorf("new sources = %v", res.NewSources)
			}
			if res.IntraBatchDuplicates != 1 || res.Violations != 1 {
				t.Errorf("duplicates = %d, violations = %d, want 1 and 1",
					res.IntraBatchDuplicates, res.Violations)
			}
			if len(res.Table) != 3 {
				t.Fatalf("second run rows = %d, want 3", len(res.Table))
			}
			if v := dedup.Violations(res.Table); v != 0 {
				t.Errorf("persisted table repeats %d keys", v)
			}
			for _, e := range res.Table {
				if e.FilePath == "/store/mc/Sim/TTbar/b.root" && e.Origin != record.OriginOld {
					t.Errorf("baseline row replaced by new observation")
				}
			}
			if len(reports) != 1 || reports[0].Violations != 1 {
				t.Errorf("reports = %+v", reports)
			}

			res, _, err = env.run(t, ingest.RunConfig{})
			if err != nil {
				t.Fatalf("third run: %v", err)
			}
			if res.Persisted || len(res.Table) != 3 {
				t.Errorf("idle run persisted=%v rows=%d", res.Persisted, len(res.Table))
			}
		})
	}
}

func TestE2E_DirStoreTableBytesStableWhenIdle(t *testing.T) {
	env := newTestEnv(t, "dir")
	env.writeExport(t, "a.csv", csvRow(100, "/p/a", "1", ""))
	if _, _, err := env.run(t, ingest.RunConfig{FirstRead: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	tablePath := filepath.Join(env.storeDir, "jobs", "table")
	before, err := os.ReadFile(tablePath)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	infoBefore, _ := os.Stat(tablePath)

	for i := 0; i < 3; i++ {
		if _, _, err := env.run(t, ingest.RunConfig{}); err != nil {
			t.Fatalf("idle run %d: %v", i, err)
		}
	}
	after, _ := os.ReadFile(tablePath)
	infoAfter, _ := os.Stat(tablePath)
	if string(before) != string(after) || !infoBefore.ModTime().Equal(infoAfter.ModTime()) {
		t.Error("idle runs rewrote the table")
	}
}

// A crash after the table write but before the ledger write leaves the new
// rows in the table without their source in the ledger. The next run re-reads
// that source and the collapse policy keeps the persisted rows.
func TestE2E_RecoverFromTornPersist(t *testing.T) {
	env := newTestEnv(t, "dir")
	env.writeExport(t, "a.csv", csvRow(100, "/p/a", "1", ""))
	if _, _, err := env.run(t, ingest.RunConfig{FirstRead: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	ledgerPath := filepath.Join(env.storeDir, "jobs", "ledger")
	oldLedger, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}

	env.writeExport(t, "b.csv", csvRow(200, "/p/b", "1", ""))
	if _, _, err := env.run(t, ingest.RunConfig{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if err := os.WriteFile(ledgerPath, oldLedger, 0o644); err != nil {
		t.Fatalf("restore ledger: %v", err)
	}

	res, _, err := env.run(t, ingest.RunConfig{})
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if res.Violations != 1 {
		t.Errorf("violations = %d, want 1", res.Violations)
	}
	if len(res.Table) != 2 {
		t.Errorf("rows = %d, want 2", len(res.Table))
	}
}

func TestE2E_ConcurrentRunsExclude(t *testing.T) {
	env := newTestEnv(t, "dir")
	holder, err := blobstore.OpenDir(env.storeDir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	unlock, err := holder.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	_, _, err = env.run(t, ingest.RunConfig{FirstRead: true})
	if !errors.Is(err, ingest.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestE2E_SchemaMismatchAborts(t *testing.T) {
	env := newTestEnv(t, "badger")
	env.writeExport(t, "a.csv", csvRow(100, "/p/a", "1", ""))
	if _, _, err := env.run(t, ingest.RunConfig{FirstRead: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	env.writeExport(t, "b.csv", "100,only,three")
	_, _, err := env.run(t, ingest.RunConfig{})
	if !errors.Is(err, ingest.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "b.csv") {
		t.Errorf("error %q does not name the source", err)
	}

	res, _, err := env.run(t, ingest.RunConfig{LocalExecution: true})
	if err != nil {
		t.Fatalf("local run: %v", err)
	}
	if len(res.Table) != 1 {
		t.Errorf("rows = %d, want 1", len(res.Table))
	}
}
