package staging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/stratumlake/stratum/internal/model"
)

// Recover scans the staging directory on startup and restores every file to
// a crash-consistent state:
//   - Open files are replayed block-by-block; a corrupt or truncated tail
//     block is truncated away, and the file is renamed to Rotated so the
//     conversion engine can claim it.
//   - Claimed files left over from a conversion run that never tombstoned
//     them are reset to Rotated, since an interrupted conversion has not
//     committed anything durable.
//   - Rotated and Tombstoned files are left untouched.
func (e *Engine) Recover() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, err := model.ParseStagingFileName(entry.Name())
		if err != nil {
			continue // not a staging file we recognize; leave it alone
		}

		switch name.State {
		case model.StagingOpen:
			if err := e.recoverOpenFile(name, entry.Name()); err != nil {
				return err
			}
		case model.StagingClaimed:
			if err := e.resetClaimedFile(name, entry.Name()); err != nil {
				return err
			}
		}
	}

	return nil
}

// recoverOpenFile replays an Open file's blocks, truncates a corrupt tail if
// present, and rotates it so ownership passes to the conversion engine.
func (e *Engine) recoverOpenFile(name model.StagingFileName, filename string) error {
	path := filepath.Join(e.dir, filename)

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	var validOffset int64
	for {
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			f.Close()
			return err
		}
		_, err = readBlock(f)
		if err == io.EOF || err == errCorruptTail {
			validOffset = offset
			break
		}
		if err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Truncate(validOffset); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	rotatedName := name
	rotatedName.State = model.StagingRotated
	rotatedPath := filepath.Join(e.dir, rotatedName.String())
	if err := os.Rename(path, rotatedPath); err != nil {
		return err
	}

	if err := e.index.Remove(name.String()); err != nil {
		return err
	}
	return e.index.Upsert(rotatedName.String(), name.Stream, name.Minute, name.Fingerprint, string(model.StagingRotated))
}

// resetClaimedFile demotes a Claimed file back to Rotated: the conversion
// engine that claimed it never tombstoned it, so nothing downstream has
// observed it as converted and it must be retried.
func (e *Engine) resetClaimedFile(name model.StagingFileName, filename string) error {
	path := filepath.Join(e.dir, filename)
	rotatedName := name
	rotatedName.State = model.StagingRotated
	rotatedPath := filepath.Join(e.dir, rotatedName.String())
	if err := os.Rename(path, rotatedPath); err != nil {
		return err
	}

	if err := e.index.Remove(name.String()); err != nil {
		return err
	}
	return e.index.Upsert(rotatedName.String(), name.Stream, name.Minute, name.Fingerprint, string(model.StagingRotated))
}
