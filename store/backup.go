package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"spotify-util-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string `json:"fileName"`
	Size      int64  `json:"sizeBytes"`
	CreatedAt string `json:"createdAt"`
}

// Backup writes a consistent copy of the database to the backup directory
// while the store stays open. Returns the backup file path.
func (s *Store) Backup() (string, error) {
	timestamp := s.now().UTC().Format("2006-01-02_15-04-05.000")
	backupFilePath := filepath.Join(s.backupPath, fmt.Sprintf("store_backup_%s.db", timestamp))

	log.Infof("%s Creating backup at: %s", logcolors.LogStoreBackup, backupFilePath)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(backupFilePath, 0600)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	log.Infof("%s Backup created successfully: %s", logcolors.LogStoreBackup, backupFilePath)
	return backupFilePath, nil
}

// ListBackups returns the available backup files, newest first
func (s *Store) ListBackups() ([]BackupInfo, error) {
	backups := []BackupInfo{}

	entries, err := os.ReadDir(s.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("%s Failed to get info for %s: %v", logcolors.LogStoreBackup, entry.Name(), err)
			continue
		}

		backups = append(backups, BackupInfo{
			FileName:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	// Names embed the timestamp, so lexical order is chronological
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].FileName > backups[j].FileName
	})
	return backups, nil
}
