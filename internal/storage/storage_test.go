package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"sebastian/internal/alarm"
)

func sampleAlarms() []alarm.Alarm {
	return []alarm.Alarm{
		{
			ID: "b", Title: "standup", TimeLabel: "09:30", NextFireTime: "2025-01-08T00:27:00Z",
			RepeatEnabled: true, RepeatDays: []alarm.Weekday{alarm.Mon, alarm.Wed}, LeadMinutes: 3,
		},
		{
			ID: "a", Title: "dentist", TimeLabel: "14:00", NextFireTime: "2025-01-07T04:45:00Z",
			URL: "https://example.com/booking", RepeatDays: []alarm.Weekday{}, LeadMinutes: 15,
		},
	}
}

func openDriver(t *testing.T, driver string) (Store, string) {
	t.Helper()
	ext := map[string]string{"file": ".json", "sqlite": ".db", "bolt": ".bolt"}[driver]
	path := filepath.Join(t.TempDir(), "data", "alarms"+ext)
	st, err := Open(Config{Driver: driver, Path: path}, testLogger())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

var drivers = []string{"file", "sqlite", "bolt"}

func TestLoadEmpty(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			st, _ := openDriver(t, d)
			got, err := st.Load(context.Background())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("want empty non-nil collection, got %#v", got)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			st, _ := openDriver(t, d)
			ctx := context.Background()
			want := sampleAlarms()
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
			}

			if err := st.Save(ctx, want[:1]); err != nil {
				t.Fatalf("second save: %v", err)
			}
			got, _ = st.Load(ctx)
			if len(got) != 1 || got[0].ID != "b" {
				t.Fatalf("save must replace the full collection: %#v", got)
			}
		})
	}
}

func TestFileDocumentFormat(t *testing.T) {
	st, path := openDriver(t, "file")
	if err := st.Save(context.Background(), sampleAlarms()); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"timeLabel": "09:30"`, `"nextFireTime"`, `"repeatDays": [`, `"leadMinutes": 15`} {
		if !strings.Contains(s, want) {
			t.Fatalf("document missing %s:\n%s", want, s)
		}
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
}

func TestNonRepeatAlarmStoresEmptyRepeatDays(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			st, path := openDriver(t, d)
			ctx := context.Background()
			one := []alarm.Alarm{{ID: "x", Title: "x", TimeLabel: "07:30", NextFireTime: "2025-01-07T22:27:00Z", LeadMinutes: 3}}
			if err := st.Save(ctx, one); err != nil {
				t.Fatalf("save: %v", err)
			}
			if d == "file" {
				b, err := os.ReadFile(path)
				if err != nil {
					t.Fatalf("read: %v", err)
				}
				if !strings.Contains(string(b), `"repeatDays": []`) || strings.Contains(string(b), "null") {
					t.Fatalf("document should carry an empty repeatDays array:\n%s", b)
				}
			}
			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(got) != 1 || got[0].RepeatDays == nil || len(got[0].RepeatDays) != 0 {
				t.Fatalf("loaded = %#v", got)
			}
		})
	}
}

func TestFileWhitespaceIsEmpty(t *testing.T) {
	st, path := openDriver(t, "file")
	if err := os.WriteFile(path, []byte("  \n\t"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v err %v", got, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("blank file must not be quarantined: %v", err)
	}
}

func TestFileCorruptQuarantine(t *testing.T) {
	st, path := openDriver(t, "file")
	if err := os.WriteFile(path, []byte(`[{"id": "x", broken`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("corrupt load must not fail: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want empty collection, got %v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file should have been moved: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "alarms.corrupt-*"))
	if len(matches) != 1 {
		t.Fatalf("quarantine files=%v", matches)
	}
	suffix := strings.TrimPrefix(filepath.Base(matches[0]), "alarms.corrupt-")
	if _, err := time.ParseInLocation("20060102150405", suffix, time.Local); err != nil {
		t.Fatalf("suffix %q is not a timestamp: %v", suffix, err)
	}
	b, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(b), "broken") {
		t.Fatalf("quarantined content changed")
	}

	if err := st.Save(context.Background(), sampleAlarms()); err != nil {
		t.Fatalf("save after recovery: %v", err)
	}
}

func TestSQLiteCorruptQuarantine(t *testing.T) {
	st, _ := openDriver(t, "sqlite")
	ctx := context.Background()
	db := st.(*sqliteStore).db
	if _, err := db.ExecContext(ctx, `INSERT INTO alarm_doc(id, body, saved_at) VALUES(1, '{oops', 'now')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v err %v", got, err)
	}
	var name, body string
	if err := db.QueryRowContext(ctx, `SELECT name, body FROM alarm_doc_quarantine`).Scan(&name, &body); err != nil {
		t.Fatalf("quarantine row: %v", err)
	}
	if !strings.HasPrefix(name, "corrupt-") || body != "{oops" {
		t.Fatalf("quarantine row name=%q body=%q", name, body)
	}
	var n int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alarm_doc`).Scan(&n)
	if n != 0 {
		t.Fatalf("corrupt document still present")
	}
}

func TestBoltCorruptQuarantine(t *testing.T) {
	st, _ := openDriver(t, "bolt")
	bs := st.(*boltStore)
	err := bs.db.Update(func(tx *boltTx) error {
		return tx.Bucket(bucketAlarms).Put(keyDocument, []byte("not json"))
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v err %v", got, err)
	}
	var quarantined int
	_ = bs.db.View(func(tx *boltTx) error {
		return tx.Bucket(bucketQuarantine).ForEach(func(k, v []byte) error {
			if strings.HasPrefix(string(k), "corrupt-") && string(v) == "not json" {
				quarantined++
			}
			return nil
		})
	})
	if quarantined != 1 {
		t.Fatalf("quarantined=%d", quarantined)
	}
}

func TestAuditAndDedup(t *testing.T) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			st, _ := openDriver(t, d)
			ctx := context.Background()
			if err := st.AppendAudit(ctx, AuditEntry{Action: "create", AlarmID: "a", Title: "t", OK: true}); err != nil {
				t.Fatalf("audit: %v", err)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "telegram|a|2025", until); err != nil {
				t.Fatalf("put dedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "telegram|a|2025")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("get dedup = %v %v %v", got, ok, err)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatalf("missing key reported present")
			}
		})
	}
}

func TestFileDedupSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	st, err := Open(Config{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	_ = st.PutDedup(context.Background(), "k", until)
	_ = st.PutDedup(context.Background(), "expired", time.Now().Add(-time.Hour))
	_ = st.Close()

	st, err = Open(Config{Path: path}, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if got, ok, _ := st.GetDedup(context.Background(), "k"); !ok || !got.Equal(until) {
		t.Fatalf("dedup lost across reopen: %v %v", got, ok)
	}
	if _, ok, _ := st.GetDedup(context.Background(), "expired"); ok {
		t.Fatalf("expired key should be pruned on open")
	}
}

func TestQuarantinePath(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	cases := map[string]string{
		"/data/alarms.json": "/data/alarms.corrupt-20250102030405",
		"/data/alarms":      "/data/alarms.corrupt-20250102030405",
	}
	for in, want := range cases {
		if got := quarantinePath(in, now); got != want {
			t.Fatalf("quarantinePath(%q)=%q want %q", in, got, want)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, testLogger()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, testLogger()); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func TestMemoryDriver(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	want := sampleAlarms()
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("load = %+v, %v", got, err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: "create"}); err != ErrDisabled {
		t.Fatalf("audit err = %v, want ErrDisabled", err)
	}
	until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	_ = st.PutDedup(ctx, "k", until)
	if u, ok, _ := st.GetDedup(ctx, "k"); !ok || !u.Equal(until) {
		t.Fatalf("dedup = %v %v", u, ok)
	}
}
