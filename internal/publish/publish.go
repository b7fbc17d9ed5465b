// Package publish swaps a staged page tree into the live serving directory.
// The swap is rename-based: readers only ever see the old tree or the new
// tree, never a half-written mix, and a failed swap restores the old tree.
package publish

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/trendmill/trendmill/internal/config"
)

// ErrPublish is the failure class for the publish step. Snapshots persisted
// earlier in the run remain valid when it fires.
var ErrPublish = errors.New("publish: swap failed")

// prevSuffix names the temporary holding directory during a swap.
const prevSuffix = ".prev"

// Publisher owns the live directory swap and the pre-swap permission fixup.
type Publisher struct {
	dirMode  os.FileMode
	fileMode os.FileMode
	uid, gid int
}

// New builds a Publisher from the publish config.
func New(cfg config.PublishConfig) (*Publisher, error) {
	dirMode, err := cfg.DirFileMode()
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	fileMode, err := cfg.FileFileMode()
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return &Publisher{
		dirMode:  dirMode,
		fileMode: fileMode,
		uid:      cfg.UID,
		gid:      cfg.GID,
	}, nil
}

// Fixup applies the configured modes (and ownership, when uid/gid are set)
// to every entry under dir. It must run on the staged tree before Publish;
// the live tree is never touched after the swap.
func (p *Publisher) Fixup(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		mode := p.fileMode
		if d.IsDir() {
			mode = p.dirMode
		}
		if err := os.Chmod(path, mode); err != nil {
			return err
		}

		if p.uid >= 0 || p.gid >= 0 {
			if err := os.Chown(path, p.uid, p.gid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish: fixup %q: %w", dir, err)
	}
	return nil
}

// Publish atomically replaces live with staged:
//
//	rename live    -> live.prev   (skipped when live does not exist yet)
//	rename staged  -> live
//	remove live.prev
//
// If the second rename fails, live.prev is renamed back so the previously
// served tree stays intact. Both directories must be on the same
// filesystem for rename to be atomic.
func (p *Publisher) Publish(staged, live string) error {
	prev := live + prevSuffix

	// A crashed earlier run may have left a holding directory behind.
	if err := os.RemoveAll(prev); err != nil {
		return fmt.Errorf("%w: clear %q: %v", ErrPublish, prev, err)
	}

	liveExists := true
	if _, err := os.Stat(live); errors.Is(err, fs.ErrNotExist) {
		liveExists = false
	} else if err != nil {
		return fmt.Errorf("%w: stat live dir: %v", ErrPublish, err)
	}

	if liveExists {
		if err := os.Rename(live, prev); err != nil {
			return fmt.Errorf("%w: move live aside: %v", ErrPublish, err)
		}
	}

	if err := os.Rename(staged, live); err != nil {
		if liveExists {
			if rbErr := os.Rename(prev, live); rbErr != nil {
				return fmt.Errorf("%w: activate staged: %v (restore failed: %v)",
					ErrPublish, err, rbErr)
			}
			slog.Warn("publish: swap failed, previous tree restored", "err", err)
		}
		return fmt.Errorf("%w: activate staged: %v", ErrPublish, err)
	}

	if liveExists {
		if err := os.RemoveAll(prev); err != nil {
			// The new tree is live; a leftover holding dir is only clutter.
			slog.Warn("publish: could not remove previous tree", "dir", prev, "err", err)
		}
	}

	slog.Info("publish: live tree swapped", "live", live)
	return nil
}
