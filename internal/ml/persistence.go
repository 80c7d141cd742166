package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"lottery-engine/internal/lottery"
)

// snapshotVersion is bumped whenever a model state layout changes.
const snapshotVersion = 1

// stateCodec encodes learned state without the snapshot envelope. The hybrid
// ensemble embeds member state this way.
type stateCodec interface {
	encodeState() (json.RawMessage, error)
	decodeState(raw json.RawMessage) error
}

func encodeJSON(algo AlgorithmType, state any) (json.RawMessage, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, lottery.WrapAlgorithm(err, "encode %s model", algo)
	}
	return raw, nil
}

func decodeJSON(algo AlgorithmType, raw json.RawMessage, state any) error {
	if err := json.Unmarshal(raw, state); err != nil {
		return lottery.WrapAlgorithm(err, "decode %s model state", algo)
	}
	return nil
}

func (m *RandomForest) encodeState() (json.RawMessage, error) {
	return encodeJSON(RandomForestType, m.state())
}

func (m *RandomForest) decodeState(raw json.RawMessage) error {
	var st randomForestState
	if err := decodeJSON(RandomForestType, raw, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *NeuralNetwork) encodeState() (json.RawMessage, error) {
	return encodeJSON(NeuralNetworkType, m.state())
}

func (m *NeuralNetwork) decodeState(raw json.RawMessage) error {
	var st neuralNetworkState
	if err := decodeJSON(NeuralNetworkType, raw, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *LSTM) encodeState() (json.RawMessage, error) {
	return encodeJSON(LSTMType, m.state())
}

func (m *LSTM) decodeState(raw json.RawMessage) error {
	var st lstmState
	if err := decodeJSON(LSTMType, raw, &st); err != nil {
		return err
	}
	return m.restore(st)
}

func (m *ARIMA) encodeState() (json.RawMessage, error) {
	return encodeJSON(ARIMAType, m.state())
}

func (m *ARIMA) decodeState(raw json.RawMessage) error {
	var st arimaState
	if err := decodeJSON(ARIMAType, raw, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *Statistical) encodeState() (json.RawMessage, error) {
	return encodeJSON(StatisticalType, m.state())
}

func (m *Statistical) decodeState(raw json.RawMessage) error {
	var st statisticalState
	if err := decodeJSON(StatisticalType, raw, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

// snapshot is the self-describing envelope written by every SaveModel.
type snapshot struct {
	Algorithm AlgorithmType   `json:"algorithm"`
	Version   int             `json:"version"`
	SavedAt   time.Time       `json:"saved_at"`
	State     json.RawMessage `json:"state"`
}

func saveSnapshot(path string, algo AlgorithmType, state any) error {
	raw, err := encodeJSON(algo, state)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot{
		Algorithm: algo,
		Version:   snapshotVersion,
		SavedAt:   time.Now().UTC(),
		State:     raw,
	}, "", "  ")
	if err != nil {
		return lottery.WrapAlgorithm(err, "encode %s snapshot", algo)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return lottery.WrapAlgorithm(err, "create model directory %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return lottery.WrapAlgorithm(err, "write %s model to %s", algo, path)
	}
	return nil
}

func loadSnapshot(path string, algo AlgorithmType, state any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return lottery.WrapAlgorithm(err, "read %s model from %s", algo, path)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return lottery.WrapAlgorithm(err, "decode %s snapshot", algo)
	}
	if snap.Algorithm != algo {
		return lottery.AlgorithmError("snapshot %s holds a %s model, expected %s", path, snap.Algorithm, algo)
	}
	if snap.Version != snapshotVersion {
		return lottery.AlgorithmError("snapshot %s has unsupported version %d", path, snap.Version)
	}
	return decodeJSON(algo, snap.State, state)
}

// SnapshotAlgorithm reports which model family a snapshot file holds.
func SnapshotAlgorithm(path string) (AlgorithmType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", lottery.WrapAlgorithm(err, "read snapshot %s", path)
	}
	var snap struct {
		Algorithm AlgorithmType `json:"algorithm"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", lottery.WrapAlgorithm(err, "decode snapshot %s", path)
	}
	return snap.Algorithm, nil
}
