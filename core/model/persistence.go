package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// SaveSnapshot はスナップショットをファイルに保存する
//
// 一時ファイルに書き込んでからリネームするため、書き込み途中で中断されても
// 既存のファイルが壊れることはない。
//
// 使用例:
//
//	snap := model.TakeSnapshot(encoder, epoch)
//	err := model.SaveSnapshot(snap, "ckpt/run/ckpt-3.gob")
func SaveSnapshot(s *Snapshot, filename string) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	if err := SaveSnapshotToWriter(s, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrap(err, "failed to move snapshot into place")
	}
	return nil
}

// LoadSnapshot はファイルからスナップショットを読み込む
func LoadSnapshot(filename string) (*Snapshot, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadSnapshotFromReader(file)
}

// SaveSnapshotToWriter はスナップショットをio.Writerに保存する
func SaveSnapshotToWriter(s *Snapshot, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	return nil
}

// LoadSnapshotFromReader はio.Readerからスナップショットを読み込む
func LoadSnapshotFromReader(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
