package pdf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SaveUpload stages an incoming PDF on disk under the upload directory
// and returns the staged path. Names get a UUID prefix so concurrent
// uploads of the same file cannot collide. The extension is checked
// before anything is written and the size cap is enforced while
// copying, so an oversized body never survives on disk.
func (l *Loader) SaveUpload(filename string, r io.Reader) (string, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "", fmt.Errorf("%w: %s", ErrNotPDF, filename)
	}

	if err := os.MkdirAll(l.config.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}

	name := uuid.New().String() + "_" + filepath.Base(filename)
	path := filepath.Join(l.config.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("staging upload: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(r, l.config.MaxUploadBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if written > l.config.MaxUploadBytes {
		os.Remove(path)
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, l.config.MaxUploadBytes)
	}

	l.logger.Debug().Str("path", path).Int64("bytes", written).Msg("upload staged")
	return path, nil
}

// UploadDir reports where uploads are staged.
func (l *Loader) UploadDir() string {
	return l.config.UploadDir
}

// MaxUploadBytes reports the upload size cap.
func (l *Loader) MaxUploadBytes() int64 {
	return l.config.MaxUploadBytes
}

// Janitor defaults.
const (
	DefaultJanitorSchedule = "@hourly"
	DefaultRetention       = 24 * time.Hour
)

// Janitor removes stale staged uploads on a cron schedule. It only
// touches the local upload directory; provider files are left alone.
type Janitor struct {
	dir       string
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    zerolog.Logger
}

// NewJanitor creates a janitor for dir. Zero values fall back to a
// 24h retention swept hourly.
func NewJanitor(dir string, retention time.Duration, schedule string) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	return &Janitor{
		dir:       dir,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		logger:    log.With().Str("component", "upload-janitor").Logger(),
	}
}

// Start schedules the sweep. The schedule accepts the standard cron
// format plus descriptors like "@hourly".
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("scheduling upload sweep: %w", err)
	}
	j.cron.Start()
	j.logger.Info().
		Str("dir", j.dir).
		Str("schedule", j.schedule).
		Dur("retention", j.retention).
		Msg("upload janitor started")
	return nil
}

// Stop halts the schedule. A sweep already running finishes on its own.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// Sweep removes staged files older than the retention window and
// reports how many were removed. A missing directory is not an error;
// nothing has been uploaded yet.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("dir", j.dir).Msg("sweep failed")
		}
		return 0
	}

	cutoff := time.Now().Add(-j.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn().Err(err).Str("path", path).Msg("could not remove stale upload")
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info().Int("removed", removed).Str("dir", j.dir).Msg("stale uploads removed")
	}
	return removed
}
