package models

import (
	"os"
	"path/filepath"
)

// Model file names shipped with the service.
const (
	DetectorModel   = "emeter_yolo11n_v1.onnx"
	RecognizerModel = "emeter_crnn_v1.onnx"
	// VocabularyFile is optional; the built-in meter alphabet is used when absent.
	VocabularyFile = "emeter_vocab.txt"
)

// Model type subdirectories.
const (
	TypeDetection   = "detection"
	TypeRecognition = "recognition"
)

// DefaultModelsDir is used when neither configuration nor environment name one.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "EMETER_MODELS_DIR"

// GetModelsDir returns the models directory.
// Priority: explicit value, environment variable, default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers {dir}/{type}/{file} and falls back to {dir}/{file}.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	base := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(base, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(base, filename)
}

// GetDetectorModelPath returns the detector model path under modelsDir.
func GetDetectorModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, DetectorModel)
}

// GetRecognizerModelPath returns the recognizer model path under modelsDir.
func GetRecognizerModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRecognition, RecognizerModel)
}

// GetVocabularyPath returns the vocabulary path if the file exists, else "".
func GetVocabularyPath(modelsDir string) string {
	p := ResolveModelPath(modelsDir, TypeRecognition, VocabularyFile)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
