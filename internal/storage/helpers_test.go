package storage

import (
	logx "sebastian/pkg/logx"

	bolt "go.etcd.io/bbolt"
)

type boltTx = bolt.Tx

func testLogger() logx.Logger { return logx.Nop() }
