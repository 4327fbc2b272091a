package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Manifest is the human readable description of a fitted annotation model.
// It is stored next to the binary payload and printed by the CLI.
type Manifest struct {
	// ID はモデルの一意なID（UUID）
	ID string `json:"id"`

	// Kind は分類器の種類（linear_svm, random_forest 等）
	Kind string `json:"kind"`

	// Version はシリアライズ形式のバージョン
	Version int `json:"version"`

	LabelColumn string   `json:"label_column"`
	Genes       []string `json:"genes"`
	Classes     []string `json:"classes"`

	// Hyperparameters は学習時のハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習サンプル数など）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToJSON はManifestをJSON形式にシリアライズ
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON はJSON形式からManifestをデシリアライズ
func (m *Manifest) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// Validate はManifestの妥当性を検証
func (m *Manifest) Validate() error {
	if m.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if m.Version == 0 {
		return fmt.Errorf("version is required")
	}
	if len(m.Genes) == 0 {
		return fmt.Errorf("fitted model must have genes")
	}
	if len(m.Classes) < 2 {
		return fmt.Errorf("fitted model must have at least two classes, got %d", len(m.Classes))
	}
	return nil
}

// Clone はManifestのディープコピーを作成
func (m *Manifest) Clone() *Manifest {
	clone := *m
	clone.Genes = append([]string(nil), m.Genes...)
	clone.Classes = append([]string(nil), m.Classes...)
	clone.Hyperparameters = make(map[string]interface{}, len(m.Hyperparameters))
	for k, v := range m.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	clone.Metadata = make(map[string]interface{}, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}
