// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package audiocache caches decoded (and resampled) waveforms in a Badger key-value store,
// so that datasets don't decode and resample the same WAV files every epoch.
package audiocache

import (
	"fmt"
	"os"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"

	"github.com/gomlx/sudormrf/pkg/audio"
)

// Cache of decoded waveforms. It is safe for concurrent use.
type Cache struct {
	db *badger.DB
}

// entry is the msgpack encoded value stored for each key.
type entry struct {
	Samples    []float32 `msgpack:"samples"`
	SampleRate int       `msgpack:"rate"`
}

// Open opens (or creates) the cache stored in dir. If inMemory is true, dir is ignored and
// nothing is persisted.
func Open(dir string, inMemory bool) (*Cache, error) {
	if !inMemory && dir == "" {
		return nil, errors.New("audio cache directory must be given for an on-disk cache")
	}
	opts := badger.DefaultOptions(dir).WithLogger(klogLogger{})
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(klogLogger{})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open audio cache in %q", dir)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached clip for key, with found set to false if it is not in the cache.
func (c *Cache) Get(key string) (clip audio.Clip, found bool, err error) {
	var value []byte
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audio.Clip{}, false, nil
	}
	if err != nil {
		return audio.Clip{}, false, errors.Wrapf(err, "failed to read %q from the audio cache", key)
	}
	var e entry
	if err = msgpack.Unmarshal(value, &e); err != nil {
		return audio.Clip{}, false, errors.Wrapf(err, "corrupted audio cache entry %q", key)
	}
	return audio.Clip{Samples: e.Samples, SampleRate: e.SampleRate}, true, nil
}

// Put stores clip under key.
func (c *Cache) Put(key string, clip audio.Clip) error {
	value, err := msgpack.Marshal(&entry{Samples: clip.Samples, SampleRate: clip.SampleRate})
	if err != nil {
		return errors.Wrapf(err, "failed to encode audio cache entry %q", key)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return errors.Wrapf(err, "failed to write %q to the audio cache", key)
}

// Close the cache, flushing it to disk.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key identifies a file decoded at a sample rate. It includes the file size and modification
// time, so modified files are decoded again.
func Key(path string, info os.FileInfo, sampleRate int) string {
	return fmt.Sprintf("%s|%d|%d|%d", path, info.Size(), info.ModTime().UnixNano(), sampleRate)
}

// Loader reads WAV files resampled to a fixed rate, going through the cache if there is one.
type Loader struct {
	cache        *Cache
	hits, misses atomic.Int64
}

// NewLoader creates a loader using the given cache. A nil cache disables caching.
func NewLoader(cache *Cache) *Loader {
	return &Loader{cache: cache}
}

// Load returns the mono samples of the WAV file at path, resampled to sampleRate.
func (l *Loader) Load(path string, sampleRate int) ([]float32, error) {
	var key string
	if l.cache != nil {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat audio file %q", path)
		}
		key = Key(path, info, sampleRate)
		clip, found, err := l.cache.Get(key)
		if err != nil {
			klog.Warningf("Ignoring audio cache error: %+v", err)
		} else if found {
			l.hits.Add(1)
			return clip.Samples, nil
		}
	}
	l.misses.Add(1)

	clip, err := audio.ReadWav(path)
	if err != nil {
		return nil, err
	}
	if clip.SampleRate != sampleRate {
		klog.V(2).Infof("Resampling %q from %dHz to %dHz", path, clip.SampleRate, sampleRate)
		clip.Samples, err = audio.Resample(clip.Samples, clip.SampleRate, sampleRate)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading %q", path)
		}
		clip.SampleRate = sampleRate
	}
	if l.cache != nil {
		if err := l.cache.Put(key, clip); err != nil {
			klog.Warningf("Failed to cache decoded audio: %+v", err)
		}
	}
	return clip.Samples, nil
}

// Stats returns the number of cache hits and misses so far.
func (l *Loader) Stats() (hits, misses int64) {
	return l.hits.Load(), l.misses.Load()
}

// klogLogger adapts badger's logging to klog: badger's info messages are only shown with --v=1.
type klogLogger struct{}

func (klogLogger) Errorf(format string, args ...any) {
	klog.ErrorDepth(1, fmt.Sprintf("[badger] "+format, args...))
}

func (klogLogger) Warningf(format string, args ...any) {
	klog.WarningDepth(1, fmt.Sprintf("[badger] "+format, args...))
}

func (klogLogger) Infof(format string, args ...any) {
	klog.V(1).InfoDepth(1, fmt.Sprintf("[badger] "+format, args...))
}

func (klogLogger) Debugf(format string, args ...any) {
	klog.V(3).InfoDepth(1, fmt.Sprintf("[badger] "+format, args...))
}
