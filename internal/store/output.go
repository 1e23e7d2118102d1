/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"
)

// OutputStore persists the captured stdout and stderr of finish
// events.  The job coordinates accompany the finish id so that
// implementations may organise output by host, user and job.
type OutputStore interface {
	Write(tx *gorm.DB, finishID int64, host, user string, jobID int64, crabid, stdout, stderr string) error
	Read(db *gorm.DB, finishID int64, host, user string, jobID int64, crabid string) (stdout, stderr string, ok bool, err error)
}

// dbOutputStore keeps output in the joboutput table, alongside the
// events it belongs to.
type dbOutputStore struct{}

func (o *dbOutputStore) Write(tx *gorm.DB, finishID int64, host, user string, jobID int64, crabid, stdout, stderr string) error {
	return tx.Create(&JobOutput{FinishID: finishID, Stdout: stdout, Stderr: stderr}).Error
}

func (o *dbOutputStore) Read(db *gorm.DB, finishID int64, host, user string, jobID int64, crabid string) (string, string, bool, error) {
	var out JobOutput
	err := db.Where("finishid = ?", finishID).First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, storeErr("get job output", err)
	}
	return out.Stdout, out.Stderr, true, nil
}

// FileOutputStore keeps output as plain files on disk, which suits
// deployments where output volume would bloat the database.  Output
// lives under dir/host/user/<job name>/<sharded finish id>/ with the
// finish id split into three-digit chunks to keep directories small.
type FileOutputStore struct {
	Dir string
}

func NewFileOutputStore(dir string) *FileOutputStore {
	return &FileOutputStore{Dir: dir}
}

func (o *FileOutputStore) path(finishID int64, host, user string, jobID int64, crabid string) string {
	name := crabid
	if name == "" {
		name = fmt.Sprintf("job_%d", jobID)
	}
	return filepath.Join(append(
		[]string{o.Dir, host, user, name},
		shardID(finishID)...)...)
}

// shardID splits a decimal id into three-digit path components, most
// significant first, padding the leading chunk.
func shardID(id int64) []string {
	s := fmt.Sprintf("%d", id)
	if pad := len(s) % 3; pad != 0 {
		s = strings.Repeat("0", 3-pad) + s
	}
	chunks := make([]string, 0, len(s)/3)
	for i := 0; i < len(s); i += 3 {
		chunks = append(chunks, s[i:i+3])
	}
	return chunks
}

func (o *FileOutputStore) Write(tx *gorm.DB, finishID int64, host, user string, jobID int64, crabid, stdout, stderr string) error {
	dir := o.path(finishID, host, user, jobID, crabid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for name, content := range map[string]string{"stdout": stdout, "stderr": stderr} {
		if content == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func (o *FileOutputStore) Read(db *gorm.DB, finishID int64, host, user string, jobID int64, crabid string) (string, string, bool, error) {
	dir := o.path(finishID, host, user, jobID, crabid)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", "", false, nil
	}

	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return "", nil
		}
		return string(b), err
	}

	stdout, err := read("stdout")
	if err != nil {
		return "", "", false, err
	}
	stderr, err := read("stderr")
	if err != nil {
		return "", "", false, err
	}
	return stdout, stderr, true, nil
}
