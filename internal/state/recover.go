package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// QuarantineDir is the directory under the state dir holding unreadable state files.
const QuarantineDir = "quarantine"

// quarantine moves a corrupt file to dir/quarantine/<name>.<timestamp>.corrupt.
func quarantine(dir, filePath string) (string, error) {
	qdir := filepath.Join(dir, QuarantineDir)
	if err := os.MkdirAll(qdir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dest := filepath.Join(qdir, name)
	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dest, nil
}

// restoreFromBackup reinstates path.bak when it still parses.
func restoreFromBackup(filePath string, into *InstrumentState) error {
	content, err := os.ReadFile(filePath + ".bak")
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	var st InstrumentState
	if err := yamlv3.Unmarshal(content, &st); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := AtomicWriteRaw(filePath, content); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	*into = st
	return nil
}

// recoverCorrupt quarantines the unreadable state file, then falls back to the
// backup, or to zero state when the backup is unusable too.
func (s *Store) recoverCorrupt(dir string, parseErr error) error {
	dest, err := quarantine(dir, s.path)
	if err != nil {
		return fmt.Errorf("parse %s: %w (quarantine failed: %v)", s.path, parseErr, err)
	}
	err = restoreFromBackup(s.path, &s.state)
	if err == nil {
		s.recovery = fmt.Sprintf("corrupt state moved to %s, restored from backup", dest)
		return nil
	}
	s.recovery = fmt.Sprintf("corrupt state moved to %s, starting from zero state (%v)", dest, err)
	s.state = InstrumentState{}
	return nil
}
