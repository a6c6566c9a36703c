package service

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhalvorsen/lookout/internal/database"
	"github.com/mhalvorsen/lookout/internal/modules/audit"
	"github.com/mhalvorsen/lookout/internal/modules/cache"
	"github.com/mhalvorsen/lookout/internal/modules/watchlist"
)

const auditRetention = 90 * 24 * time.Hour

// Maintenance runs the daily housekeeping pass: expired-watchlist
// sweep, audit and cache pruning, a WAL checkpoint, and a local backup
// archive.
type Maintenance struct {
	db        *database.DB
	watchlist *watchlist.Manager
	audit     *audit.Repository
	cache     *cache.Repository
	backupDir string
	dataDir   string
	log       zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func NewMaintenance(db *database.DB, wl *watchlist.Manager, auditRepo *audit.Repository, cacheRepo *cache.Repository, dataDir, backupDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:        db,
		watchlist: wl,
		audit:     auditRepo,
		cache:     cacheRepo,
		backupDir: backupDir,
		dataDir:   dataDir,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

// MaybeRun executes the maintenance pass at most once per calendar day.
func (m *Maintenance) MaybeRun(ctx context.Context, now time.Time) {
	m.mu.Lock()
	if sameDay(m.lastRun, now) {
		m.mu.Unlock()
		return
	}
	m.lastRun = now
	m.mu.Unlock()

	m.log.Info().Msg("running daily maintenance")

	if err := m.watchlist.SweepExpired(now); err != nil {
		m.log.Warn().Err(err).Msg("watchlist sweep failed")
	}

	if n, err := m.audit.PruneOlderThan(now.Add(-auditRetention)); err != nil {
		m.log.Warn().Err(err).Msg("audit prune failed")
	} else if n > 0 {
		m.log.Info().Int64("pruned", n).Msg("pruned old audit events")
	}

	if n, err := m.cache.PruneExpired(now); err != nil {
		m.log.Warn().Err(err).Msg("cache prune failed")
	} else if n > 0 {
		m.log.Debug().Int64("pruned", n).Msg("pruned expired cache entries")
	}

	if err := m.db.WALCheckpoint("TRUNCATE"); err != nil {
		m.log.Warn().Err(err).Msg("wal checkpoint failed")
	}

	if ctx.Err() != nil {
		return
	}
	if m.backupDir != "" {
		if path, err := m.Backup(now); err != nil {
			m.log.Warn().Err(err).Msg("backup failed")
		} else {
			m.log.Info().Str("path", path).Msg("backup written")
		}
	}
}

// Backup writes a tar.gz of the data directory plus a sha256 manifest
// next to it, and returns the archive path.
func (m *Maintenance) Backup(now time.Time) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	name := fmt.Sprintf("lookout_%s.tar.gz", now.Format("20060102T150405"))
	archivePath := filepath.Join(m.backupDir, name)

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	digest := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(f, digest))
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(m.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		// The backup directory may live inside the data directory.
		if m.backupDir != "" && isWithin(m.backupDir, path) {
			return nil
		}
		rel, err := filepath.Rel(m.dataDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if walkErr != nil {
		tw.Close()
		gz.Close()
		os.Remove(archivePath)
		return "", fmt.Errorf("failed to archive data dir: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}

	manifest := fmt.Sprintf("%x  %s\n", digest.Sum(nil), name)
	if err := os.WriteFile(archivePath+".sha256", []byte(manifest), 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return archivePath, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
