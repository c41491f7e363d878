// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/palm_pilot/internal/imu"
)

// ErrNotFound means no calibration has been saved yet. Callers recover by
// running the Calibrator and saving its result.
var ErrNotFound = errors.New("calibration: no saved calibration")

// Store persists a BiasRecord.
type Store interface {
	Save(BiasRecord) error
	Load() (BiasRecord, error)
}

// FileStore keeps the bias record in a single file. Files ending in .yaml or
// .yml are YAML, anything else is JSON.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes b atomically: a temp file in the same directory is renamed
// over the target.
func (f *FileStore) Save(b BiasRecord) error {
	var (
		data []byte
		err  error
	)
	if f.isYAML() {
		data, err = yaml.Marshal(b)
	} else {
		data, err = json.MarshalIndent(b, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create calibration temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod calibration file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace calibration file: %w", err)
	}
	return nil
}

// Load reads the bias record. A missing file yields ErrNotFound.
func (f *FileStore) Load() (BiasRecord, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return BiasRecord{}, ErrNotFound
	}
	if err != nil {
		return BiasRecord{}, fmt.Errorf("failed to read calibration file: %w", err)
	}

	b, err := f.decode(data)
	if err != nil {
		return BiasRecord{}, fmt.Errorf("failed to parse calibration file %s: %w", f.Path, err)
	}
	return b, nil
}

// storedRecord keeps the vectors as slices so a missing key or a short
// array is told apart from a zero bias.
type storedRecord struct {
	AccelBias []float64 `json:"accel_bias" yaml:"accel_bias"`
	GyroBias  []float64 `json:"gyro_bias" yaml:"gyro_bias"`
}

func (f *FileStore) decode(data []byte) (BiasRecord, error) {
	var rec storedRecord
	if f.isYAML() {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rec); err != nil {
			return BiasRecord{}, err
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return BiasRecord{}, err
		}
	}

	var b BiasRecord
	if err := toVec3(&b.AccelBias, "accel_bias", rec.AccelBias); err != nil {
		return BiasRecord{}, err
	}
	if err := toVec3(&b.GyroBias, "gyro_bias", rec.GyroBias); err != nil {
		return BiasRecord{}, err
	}
	return b, nil
}

func toVec3(dst *imu.Vec3, key string, v []float64) error {
	if v == nil {
		return fmt.Errorf("missing %s", key)
	}
	if len(v) != 3 {
		return fmt.Errorf("%s has %d elements, want 3", key, len(v))
	}
	copy(dst[:], v)
	return nil
}
