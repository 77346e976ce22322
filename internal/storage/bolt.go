package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/metrics"
	logx "sebastian/pkg/logx"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAlarms     = []byte("alarms")
	bucketQuarantine = []byte("quarantine")
	bucketAudit      = []byte("audit")
	bucketDedup      = []byte("dedup")

	keyDocument = []byte("document")
)

type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAlarms, bucketQuarantine, bucketAudit, bucketDedup} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) Load(ctx context.Context) ([]alarm.Alarm, error) {
	_ = ctx
	var body []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketAlarms).Get(keyDocument); v != nil {
			body = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	alarms, derr := decodeAlarms(body)
	if derr == nil {
		return alarms, nil
	}

	metrics.RecordLoadRecovery("bolt")
	name := quarantineName(time.Now())
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketQuarantine).Put([]byte(name), body); err != nil {
			return err
		}
		return tx.Bucket(bucketAlarms).Delete(keyDocument)
	})
	if err != nil {
		s.log.Error("failed to move corrupt alarm document aside", logx.Err(err))
	} else {
		s.log.Warn("alarm document unreadable, quarantined and starting empty",
			logx.String("quarantine", name), logx.Err(derr))
	}
	return []alarm.Alarm{}, nil
}

func (s *boltStore) Save(ctx context.Context, alarms []alarm.Alarm) error {
	_ = ctx
	body, err := encodeAlarms(alarms)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlarms).Put(keyDocument, body)
	})
	if err != nil {
		metrics.RecordPersistFailure("bolt")
	}
	return err
}

func (s *boltStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketAudit)
		seq, err := bk.NextSequence()
		if err != nil {
			return err
		}
		return bk.Put(u64key(seq), b)
	})
}

func (s *boltStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	if key == "" {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDedup).Put([]byte(key), u64key(uint64(until.UnixMilli())))
	})
}

func (s *boltStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	if key == "" {
		return time.Time{}, false, nil
	}
	var (
		ms uint64
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDedup).Get([]byte(key)); len(v) == 8 {
			ms = binary.BigEndian.Uint64(v)
			ok = true
		}
		return nil
	})
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(ms)), true, nil
}

func u64key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
