package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

const (
	ConfigFile       = "config.json"
	PreprocessorFile = "preprocessor_config.json"

	defaultImageSize = 224
	defaultInput     = "pixel_values"
	defaultOutput    = "logits"
)

// Metadata describes the model inputs, outputs and label set
type Metadata struct {
	Classes    []string
	ImageSize  int
	Mean       [3]float32
	Std        [3]float32
	InputName  string
	OutputName string
}

// modelConfig is the part of a transformers config.json used here
type modelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}

// preprocessorConfig is the part of preprocessor_config.json used here
type preprocessorConfig struct {
	Size      json.RawMessage `json:"size"`
	ImageMean []float32       `json:"image_mean"`
	ImageStd  []float32       `json:"image_std"`
}

// LoadMetadata reads label names and preprocessing settings from a model bundle.
// The preprocessor file is optional.
func LoadMetadata(configPath, preprocessorPath string) (Metadata, error) {
	meta := Metadata{
		ImageSize:  defaultImageSize,
		Mean:       [3]float32{0.5, 0.5, 0.5},
		Std:        [3]float32{0.5, 0.5, 0.5},
		InputName:  defaultInput,
		OutputName: defaultOutput,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return meta, fmt.Errorf("failed to read model config: %w", err)
	}
	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return meta, fmt.Errorf("failed to parse model config: %w", err)
	}
	classes, err := orderedLabels(cfg.ID2Label)
	if err != nil {
		return meta, err
	}
	meta.Classes = classes

	data, err = os.ReadFile(preprocessorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, fmt.Errorf("failed to read preprocessor config: %w", err)
	}
	var pre preprocessorConfig
	if err := json.Unmarshal(data, &pre); err != nil {
		return meta, fmt.Errorf("failed to parse preprocessor config: %w", err)
	}
	if size := parseSize(pre.Size); size > 0 {
		meta.ImageSize = size
	}
	if len(pre.ImageMean) == 3 {
		copy(meta.Mean[:], pre.ImageMean)
	}
	if len(pre.ImageStd) == 3 {
		copy(meta.Std[:], pre.ImageStd)
	}
	return meta, nil
}

func orderedLabels(id2label map[string]string) ([]string, error) {
	if len(id2label) == 0 {
		return nil, fmt.Errorf("model config has no id2label mapping")
	}
	ids := make([]int, 0, len(id2label))
	for k := range id2label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid label id %q: %w", k, err)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if ids[0] != 0 || ids[len(ids)-1] != len(ids)-1 {
		return nil, fmt.Errorf("label ids are not contiguous from 0")
	}
	classes := make([]string, len(ids))
	for _, id := range ids {
		classes[id] = id2label[strconv.Itoa(id)]
	}
	return classes, nil
}

// parseSize accepts 224, {"height":224,"width":224} or {"shortest_edge":224}
func parseSize(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var obj struct {
		Height       int `json:"height"`
		ShortestEdge int `json:"shortest_edge"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	if obj.Height > 0 {
		return obj.Height
	}
	return obj.ShortestEdge
}
