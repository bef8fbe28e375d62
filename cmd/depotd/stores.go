package main

import (
	"go.uber.org/zap"

	"github.com/depotdb/depot/bolt"
	"github.com/depotdb/depot/inmem"
	"github.com/depotdb/depot/kv"
)

// kvStore is the store handle shared by every backend section.
type kvStore = kv.Store

func inmemStore() *inmem.KVStore {
	return inmem.NewKVStore()
}

func boltStore(path string, log *zap.Logger) *bolt.Client {
	return bolt.NewClient(path, log)
}
