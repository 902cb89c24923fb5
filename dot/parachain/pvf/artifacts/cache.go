// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-artifacts"))

// TempPrefix prefixes files written by workers before they are published.
const TempPrefix = "tmp-"

// State is the cache state of an artifact, either Prepared or FailedToPrepare.
type State interface {
	isState()
}

// Prepared is the state of a published artifact.
type Prepared struct {
	Path        string
	Size        uint64
	Fingerprint string
	PreparedAt  time.Time
}

// FailedToPrepare is the state of an artifact whose last preparation failed.
type FailedToPrepare struct {
	Err         *pvfcommon.PrepareError
	FailedAt    time.Time
	NumFailures uint32
}

func (Prepared) isState()        {}
func (FailedToPrepare) isState() {}

// Settings are the limits of the artifact cache.
type Settings struct {
	// MaxTotalSize is the disk budget of prepared artifacts, 0 for unlimited.
	MaxTotalSize uint64
	// MaxCount caps the number of prepared artifacts, 0 for unlimited.
	MaxCount int
	// UnusedTTL evicts artifacts unused for longer, 0 to disable.
	UnusedTTL time.Duration
	// FailureCooldown is the backoff before a failed preparation is retried.
	FailureCooldown time.Duration
	// MaxPrepareRetries is the number of retries after a first failure.
	MaxPrepareRetries uint32
}

// Cache maps artifact ids to their state and owns the artifact directory.
// It is not safe for concurrent use; the host dispatcher is its only user.
type Cache struct {
	dir         string
	fingerprint string
	settings    Settings

	states    map[pvfcommon.ArtifactID]State
	lastUsed  map[pvfcommon.ArtifactID]time.Time
	recency   *lru.Cache[pvfcommon.ArtifactID, uint64]
	totalSize uint64
	evicted   []pvfcommon.ArtifactID
}

// Open opens the artifact directory, creating it if needed, and recovers
// the artifacts left by a previous run. Temporary files, unparsable files
// and artifacts from a different fingerprint are deleted.
func Open(dir, fingerprint string, settings Settings) (*Cache, error) {
	err := os.MkdirAll(dir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	c := &Cache{
		dir:         dir,
		fingerprint: fingerprint,
		settings:    settings,
		states:      make(map[pvfcommon.ArtifactID]State),
		lastUsed:    make(map[pvfcommon.ArtifactID]time.Time),
	}

	capacity := settings.MaxCount
	if capacity <= 0 {
		capacity = math.MaxInt32
	}
	c.recency, err = lru.NewWithEvict[pvfcommon.ArtifactID, uint64](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	err = c.recover()
	if err != nil {
		return nil, err
	}
	return c, nil
}

type recovered struct {
	id       pvfcommon.ArtifactID
	prepared Prepared
	modTime  time.Time
}

func (c *Cache) recover() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading artifact directory: %w", err)
	}

	var found []recovered
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(c.dir, name)

		if strings.HasPrefix(name, TempPrefix) {
			c.removeFile(path, "leftover temporary file")
			continue
		}

		id, err := pvfcommon.ParseArtifactFileName(name)
		if err != nil {
			c.removeFile(path, err.Error())
			continue
		}

		header, err := ReadHeader(path)
		if err == nil {
			err = header.Check(id, c.fingerprint)
		}
		if err != nil {
			c.removeFile(path, err.Error())
			continue
		}

		info, err := entry.Info()
		if err != nil {
			c.removeFile(path, err.Error())
			continue
		}

		found = append(found, recovered{
			id: id,
			prepared: Prepared{
				Path:        path,
				Size:        uint64(info.Size()),
				Fingerprint: header.Fingerprint,
				PreparedAt:  info.ModTime(),
			},
			modTime: info.ModTime(),
		})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.Before(found[j].modTime)
	})
	for _, r := range found {
		c.insert(r.id, r.prepared, r.modTime)
	}
	c.evicted = nil

	logger.Infof("recovered %d artifacts (%d bytes) from %s", len(found), c.totalSize, c.dir)
	return nil
}

// Dir returns the artifact directory.
func (c *Cache) Dir() string { return c.dir }

// Len returns the number of prepared artifacts.
func (c *Cache) Len() int { return c.recency.Len() }

// TotalSize returns the total size of prepared artifacts in bytes.
func (c *Cache) TotalSize() uint64 { return c.totalSize }

// Lookup returns the state of the artifact, or false if it is unknown.
func (c *Cache) Lookup(id pvfcommon.ArtifactID) (State, bool) {
	state, ok := c.states[id]
	return state, ok
}

// NewTempPath returns a unique path for a worker to write an artifact to.
// Temporary paths never collide with published artifact names.
func (c *Cache) NewTempPath(id pvfcommon.ArtifactID) string {
	return filepath.Join(c.dir, TempPrefix+id.String()+"-"+uuid.NewString())
}

// Publish verifies the artifact written at tmpPath and atomically moves it
// to its final path. The temporary file is removed if verification fails.
func (c *Cache) Publish(id pvfcommon.ArtifactID, tmpPath string, now time.Time) (Prepared, error) {
	size, err := Verify(tmpPath, id, c.fingerprint)
	if err != nil {
		c.removeFile(tmpPath, "failed verification")
		return Prepared{}, fmt.Errorf("verifying artifact %s: %w", id, err)
	}

	if _, ok := c.recency.Peek(id); ok {
		c.forget(id)
	}

	path := filepath.Join(c.dir, id.FileName())
	err = os.Rename(tmpPath, path)
	if err != nil {
		c.removeFile(tmpPath, "failed rename")
		return Prepared{}, fmt.Errorf("publishing artifact %s: %w", id, err)
	}

	prepared := Prepared{
		Path:        path,
		Size:        size,
		Fingerprint: c.fingerprint,
		PreparedAt:  now,
	}
	c.insert(id, prepared, now)
	return prepared, nil
}

// RecordFailure replaces the state of the artifact with a new failure.
func (c *Cache) RecordFailure(id pvfcommon.ArtifactID, prepareErr *pvfcommon.PrepareError,
	now time.Time) FailedToPrepare {
	numFailures := uint32(1)
	switch state := c.states[id].(type) {
	case FailedToPrepare:
		numFailures = state.NumFailures + 1
	case Prepared:
		c.forget(id)
	}

	failed := FailedToPrepare{
		Err:         prepareErr,
		FailedAt:    now,
		NumFailures: numFailures,
	}
	c.states[id] = failed
	return failed
}

// CanRetry returns true if the failed artifact may be prepared again: the
// error is not deterministic, the retry budget is not spent and the
// cooldown elapsed. Unknown artifacts can always be prepared.
func (c *Cache) CanRetry(id pvfcommon.ArtifactID, now time.Time) bool {
	state, ok := c.states[id]
	if !ok {
		return true
	}
	failed, ok := state.(FailedToPrepare)
	if !ok {
		return false
	}
	if failed.Err.IsDeterministic() {
		return false
	}
	if failed.NumFailures > c.settings.MaxPrepareRetries {
		return false
	}
	return now.Sub(failed.FailedAt) >= c.settings.FailureCooldown
}

// Touch marks the prepared artifact as used.
func (c *Cache) Touch(id pvfcommon.ArtifactID, now time.Time) {
	_, ok := c.recency.Get(id)
	if !ok {
		return
	}
	c.lastUsed[id] = now

	path := filepath.Join(c.dir, id.FileName())
	if err := os.Chtimes(path, now, now); err != nil {
		logger.Debugf("updating artifact %s times: %s", id, err)
	}
}

// Remove forgets the artifact and deletes its file, if any.
func (c *Cache) Remove(id pvfcommon.ArtifactID) {
	if _, ok := c.recency.Peek(id); ok {
		c.forget(id)
		return
	}
	delete(c.states, id)
}

// Prune evicts prepared artifacts unused for longer than the TTL, then the
// least recently used ones while over the size budget. It returns the ids
// evicted since the last call, including evictions caused by the count limit.
func (c *Cache) Prune(now time.Time) []pvfcommon.ArtifactID {
	if c.settings.UnusedTTL > 0 {
		for _, id := range c.recency.Keys() {
			if now.Sub(c.lastUsed[id]) > c.settings.UnusedTTL {
				c.recency.Remove(id)
			}
		}
	}

	for c.settings.MaxTotalSize > 0 && c.totalSize > c.settings.MaxTotalSize {
		if _, _, ok := c.recency.RemoveOldest(); !ok {
			break
		}
	}

	evicted := c.evicted
	c.evicted = nil
	return evicted
}

func (c *Cache) insert(id pvfcommon.ArtifactID, prepared Prepared, lastUsed time.Time) {
	c.states[id] = prepared
	c.lastUsed[id] = lastUsed
	c.totalSize += prepared.Size
	c.recency.Add(id, prepared.Size)
}

// forget removes a prepared artifact without reporting it as evicted.
func (c *Cache) forget(id pvfcommon.ArtifactID) {
	n := len(c.evicted)
	c.recency.Remove(id)
	c.evicted = c.evicted[:n]
}

func (c *Cache) onEvict(id pvfcommon.ArtifactID, size uint64) {
	delete(c.states, id)
	delete(c.lastUsed, id)
	c.totalSize -= size
	c.removeFile(filepath.Join(c.dir, id.FileName()), "evicted")
	c.evicted = append(c.evicted, id)
}

func (c *Cache) removeFile(path, reason string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("removing %s (%s): %s", path, reason, err)
		return
	}
	logger.Debugf("removed %s: %s", filepath.Base(path), reason)
}
