package annotate

import (
	"time"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/preprocessing"
)

// FittedModel is a trained annotator: the backend classifier together with
// everything needed to apply it to new data.
type FittedModel struct {
	ID          string
	Kind        Kind
	LabelColumn string
	Genes       []string // training gene order
	Classes     []string // sorted label vocabulary, column order of probabilities
	Params      Params
	NSamples    int
	CreatedAt   time.Time

	scaler     *preprocessing.StandardScaler
	classifier model.BinaryModel
}

// Classifier returns the fitted backend.
func (fm *FittedModel) Classifier() model.Classifier { return fm.classifier }

// Scaled reports whether inputs are standardized before prediction.
func (fm *FittedModel) Scaled() bool { return fm.scaler != nil }

// Manifest describes the model for listings and the registry.
func (fm *FittedModel) Manifest() *model.Manifest {
	return &model.Manifest{
		ID:              fm.ID,
		Kind:            string(fm.Kind),
		Version:         model.EnvelopeVersion,
		LabelColumn:     fm.LabelColumn,
		Genes:           append([]string(nil), fm.Genes...),
		Classes:         append([]string(nil), fm.Classes...),
		Hyperparameters: fm.Params.Map(),
		Metadata:        map[string]interface{}{"n_samples": fm.NSamples},
		CreatedAt:       fm.CreatedAt,
	}
}

type fittedSnapshot struct {
	Version     int
	ID          string
	Kind        Kind
	LabelColumn string
	Genes       []string
	Classes     []string
	Params      Params
	NSamples    int
	CreatedAt   time.Time
	Scaler      []byte
	Backend     model.Envelope
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (fm *FittedModel) MarshalBinary() ([]byte, error) {
	if fm.classifier == nil {
		return nil, errors.NewNotFittedError("FittedModel", "MarshalBinary")
	}
	env, err := model.Seal(string(fm.Kind), fm.classifier)
	if err != nil {
		return nil, err
	}
	snap := fittedSnapshot{
		Version: model.EnvelopeVersion, ID: fm.ID, Kind: fm.Kind, LabelColumn: fm.LabelColumn,
		Genes: fm.Genes, Classes: fm.Classes, Params: fm.Params, NSamples: fm.NSamples,
		CreatedAt: fm.CreatedAt, Backend: env,
	}
	if fm.scaler != nil {
		if snap.Scaler, err = fm.scaler.MarshalBinary(); err != nil {
			return nil, errors.Wrap(err, "marshal scaler")
		}
	}
	return model.EncodeGob(snap)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (fm *FittedModel) UnmarshalBinary(data []byte) error {
	var snap fittedSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	if snap.Version != model.EnvelopeVersion {
		return errors.NewValueError("FittedModel.UnmarshalBinary", "unsupported model format version")
	}
	clf, err := newBackend(snap.Kind, snap.Params)
	if err != nil {
		return err
	}
	if err := snap.Backend.Open(string(snap.Kind), clf); err != nil {
		return err
	}
	var scaler *preprocessing.StandardScaler
	if len(snap.Scaler) > 0 {
		scaler = preprocessing.NewStandardScalerDefault()
		if err := scaler.UnmarshalBinary(snap.Scaler); err != nil {
			return errors.Wrap(err, "unmarshal scaler")
		}
	}
	*fm = FittedModel{
		ID: snap.ID, Kind: snap.Kind, LabelColumn: snap.LabelColumn,
		Genes: snap.Genes, Classes: snap.Classes, Params: snap.Params,
		NSamples: snap.NSamples, CreatedAt: snap.CreatedAt,
		scaler: scaler, classifier: clf,
	}
	return nil
}

// Save writes the model to path.
func (fm *FittedModel) Save(path string) error {
	if err := model.SaveModel(fm, path); err != nil {
		return errors.Wrapf(err, "write model %s", path)
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*FittedModel, error) {
	fm := &FittedModel{}
	if err := model.LoadModel(fm, path); err != nil {
		return nil, errors.Wrapf(err, "read model %s", path)
	}
	return fm, nil
}
