/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package state persists reassembled payloads so they can be listed,
// exported and served after the capture pass is done.
package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/displaycap/go-trigger/pkg/log"
)

const (
	payloadsBucket = "payloads"
	metaBucket     = "payload_meta"
)

// PayloadMeta describes one persisted payload. ID is the packet that
// opened the payload run, which is unique within a capture.
type PayloadMeta struct {
	ID           uint64   `json:"id"`
	Protocol     string   `json:"protocol"`
	Bus          uint16   `json:"bus"`
	Device       uint8    `json:"device"`
	Endpoint     uint8    `json:"endpoint"`
	Session      string   `json:"session,omitempty"`
	Declared     uint32   `json:"declared"`
	Complete     bool     `json:"complete"`
	GapOffset    uint32   `json:"gap_offset,omitempty"`
	Conflict     bool     `json:"conflict,omitempty"`
	Contributors []uint64 `json:"contributors,omitempty"`
}

type Store struct {
	context.Context
	db *bolt.DB
}

func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(payloadsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Opened payload store %s", path)
	return &Store{Context: ctx, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func storeKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Put persists one payload with its metadata.
func (s *Store) Put(meta *PayloadMeta, data []byte) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(metaBucket)).Put(storeKey(meta.ID), encoded); err != nil {
			return err
		}
		return tx.Bucket([]byte(payloadsBucket)).Put(storeKey(meta.ID), data)
	})
}

// Meta returns the metadata of one payload.
func (s *Store) Meta(id uint64) (*PayloadMeta, error) {
	var meta *PayloadMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		encoded := tx.Bucket([]byte(metaBucket)).Get(storeKey(id))
		if encoded == nil {
			return ErrPayloadNotFound{ID: id}
		}
		meta = &PayloadMeta{}
		return json.Unmarshal(encoded, meta)
	})
	return meta, err
}

// Get returns the metadata and bytes of one payload.
func (s *Store) Get(id uint64) (*PayloadMeta, []byte, error) {
	meta, err := s.Meta(id)
	if err != nil {
		return nil, nil, err
	}
	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket([]byte(payloadsBucket)).Get(storeKey(id))
		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	return meta, data, err
}

// List returns the metadata of every persisted payload in id order.
func (s *Store) List() ([]*PayloadMeta, error) {
	var metas []*PayloadMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).ForEach(func(_, encoded []byte) error {
			meta := &PayloadMeta{}
			if err := json.Unmarshal(encoded, meta); err != nil {
				return err
			}
			metas = append(metas, meta)
			return nil
		})
	})
	return metas, err
}
