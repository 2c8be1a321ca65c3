package metastore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

var longStringsBucket = []byte("longstrings")

// boltLongStrings keeps long strings in a Bolt file: one sub-bucket per item
// (keyed by the big-endian item id) mapping names to msgpack records.
type boltLongStrings struct {
	db  *DB
	bdb *bbolt.DB
}

func openBoltLongStrings(db *DB, path string, isTesting bool) (*boltLongStrings, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if isTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("metastore: long strings: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(longStringsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("metastore: long strings: %w", err)
	}
	return &boltLongStrings{db: db, bdb: bdb}, nil
}

func itemBucketKey(itemID ItemID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(itemID))
	return buf[:]
}

func (ls *boltLongStrings) put(ctx context.Context, itemID ItemID, name, text string) error {
	data := encodeMsgpack(nil, &longStringRecord{Text: text, Updated: time.Now().UTC()})
	ls.db.WriteCount.Add(1)
	return backendErr("longstring.put", "", ls.bdb.Update(func(btx *bbolt.Tx) error {
		root := btx.Bucket(longStringsBucket)
		b, err := root.CreateBucketIfNotExists(itemBucketKey(itemID))
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	}))
}

func (ls *boltLongStrings) get(ctx context.Context, itemID ItemID, name string) (string, bool, error) {
	var rec longStringRecord
	var found bool
	ls.db.ReadCount.Add(1)
	err := ls.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket(longStringsBucket).Bucket(itemBucketKey(itemID))
		if b == nil {
			return nil
		}
		// Get's result is only valid inside the transaction; decoding copies.
		data := b.Get(unsafeBytesFromString(name))
		if data == nil {
			return nil
		}
		found = true
		return decodeMsgpack(data, &rec)
	})
	if err != nil {
		return "", false, backendErr("longstring.get", "", err)
	}
	return rec.Text, found, nil
}

func (ls *boltLongStrings) delete(ctx context.Context, itemID ItemID, name string) error {
	ls.db.WriteCount.Add(1)
	return backendErr("longstring.delete", "", ls.bdb.Update(func(btx *bbolt.Tx) error {
		root := btx.Bucket(longStringsBucket)
		key := itemBucketKey(itemID)
		b := root.Bucket(key)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(name)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return root.DeleteBucket(key)
		}
		return nil
	}))
}

// stagePurge resolves the affected items now, while their rows still exist,
// and drops their buckets once the SQL commit has succeeded.
func (ls *boltLongStrings) stagePurge(ctx context.Context, s *Session, where string, params Params) error {
	ids, err := ls.db.queryIDs(ctx, "longstring.purge", "SELECT id FROM "+itemsTable+" WHERE "+where, params)
	if err != nil || len(ids) == 0 {
		return err
	}
	s.onCommit(func(ctx context.Context) error {
		return ls.purge(ids)
	})
	return nil
}

func (ls *boltLongStrings) purge(ids []int64) error {
	ls.db.WriteCount.Add(1)
	return backendErr("longstring.purge", "", ls.bdb.Update(func(btx *bbolt.Tx) error {
		root := btx.Bucket(longStringsBucket)
		for _, id := range ids {
			err := root.DeleteBucket(itemBucketKey(ItemID(id)))
			if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	}))
}

func (ls *boltLongStrings) stageReset(s *Session) {
	s.onCommit(func(ctx context.Context) error {
		ls.db.WriteCount.Add(1)
		return backendErr("longstring.reset", "", ls.bdb.Update(func(btx *bbolt.Tx) error {
			if err := btx.DeleteBucket(longStringsBucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			_, err := btx.CreateBucket(longStringsBucket)
			return err
		}))
	})
}

func (ls *boltLongStrings) count(ctx context.Context) (int, error) {
	var n int
	ls.db.ReadCount.Add(1)
	err := ls.bdb.View(func(btx *bbolt.Tx) error {
		root := btx.Bucket(longStringsBucket)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			return root.Bucket(k).ForEach(func(_, _ []byte) error {
				n++
				return nil
			})
		})
	})
	return n, backendErr("longstring.count", "", err)
}

func (ls *boltLongStrings) close() error {
	return ls.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
