package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	scierrors "github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/google/uuid"
)

// artifactVersion はモデルファイル形式のバージョン
const artifactVersion = 1

// ArtifactHeader はモデルファイルの先頭に書き込まれるメタデータ
type ArtifactHeader struct {
	// ID は保存ごとに発行される一意な識別子
	ID string
	// ModelType は保存されたモデルのGo型名（例: "*ensemble.RandomForestClassifier"）
	ModelType string
	// Version はファイル形式のバージョン
	Version int
	// CreatedAt は保存時刻（UTC）
	CreatedAt time.Time
	// NFeatures は学習時の特徴量数（不明な場合は0）
	NFeatures int
}

type dimensioned interface {
	GetDimensions() (nFeatures, nSamples int)
}

// SaveModel はモデルをファイルに保存する。既存のファイルは上書きされる。
//
// 同じディレクトリの一時ファイルに書き込んでから置き換えるため、
// 保存に失敗しても既存のファイルはそのまま残る。
//
// パラメータ:
//   - model: 保存するモデル（gobでエンコード可能なもの）
//   - filename: 保存先のファイルパス
//
// 戻り値:
//   - *ArtifactHeader: 書き込まれたヘッダ
//   - error: 保存に失敗した場合のエラー
//
// 使用例:
//
//	header, err := model.SaveModel(forest, "models/random_forest_model.gob")
func SaveModel(model interface{}, filename string) (*ArtifactHeader, error) {
	file, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp-*")
	if err != nil {
		return nil, scierrors.Wrapf(err, "failed to create model file %s", filename)
	}
	tmpName := file.Name()

	header, err := SaveModelToWriter(model, file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = scierrors.Wrapf(closeErr, "failed to close model file %s", filename)
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		if renameErr := os.Rename(tmpName, filename); renameErr != nil {
			err = scierrors.Wrapf(renameErr, "failed to replace model file %s", filename)
		}
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	return header, nil
}

// LoadModel はファイルからモデルを読み込む
//
// パラメータ:
//   - model: 読み込み先のモデル（ポインタ）
//   - filename: 読み込み元のファイルパス
//
// 使用例:
//
//	var forest ensemble.RandomForestClassifier
//	header, err := model.LoadModel(&forest, "models/random_forest_model.gob")
func LoadModel(model interface{}, filename string) (*ArtifactHeader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, scierrors.Wrapf(err, "failed to open model file %s", filename)
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はヘッダとモデルをio.Writerに順に書き込む
func SaveModelToWriter(model interface{}, w io.Writer) (*ArtifactHeader, error) {
	header := &ArtifactHeader{
		ID:        uuid.NewString(),
		ModelType: fmt.Sprintf("%T", model),
		Version:   artifactVersion,
		CreatedAt: time.Now().UTC(),
	}
	if d, ok := model.(dimensioned); ok {
		header.NFeatures, _ = d.GetDimensions()
	}

	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(header); err != nil {
		return nil, scierrors.Wrap(err, "failed to encode artifact header")
	}
	if err := encoder.Encode(model); err != nil {
		return nil, scierrors.Wrapf(err, "failed to encode model %s", header.ModelType)
	}
	return header, nil
}

// LoadModelFromReader はio.Readerからヘッダとモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) (*ArtifactHeader, error) {
	decoder := gob.NewDecoder(r)

	var header ArtifactHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, scierrors.Wrap(err, "failed to decode artifact header")
	}
	if header.Version != artifactVersion {
		return nil, scierrors.NewValueError("LoadModel",
			fmt.Sprintf("unsupported artifact version %d (expected %d)", header.Version, artifactVersion))
	}
	if want := fmt.Sprintf("%T", model); header.ModelType != want {
		return nil, scierrors.NewValueError("LoadModel",
			fmt.Sprintf("artifact holds %s, cannot load into %s", header.ModelType, want))
	}
	if err := decoder.Decode(model); err != nil {
		return nil, scierrors.Wrapf(err, "failed to decode model %s", header.ModelType)
	}
	return &header, nil
}
