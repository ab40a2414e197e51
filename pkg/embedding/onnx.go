package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNX runs a sentence-transformer model exported to ONNX and mean-pools
// the last hidden state into one vector per text.
type ONNX struct {
	session   *ort.AdvancedSession
	tokenizer *WordPieceTokenizer
	seqLen    int
	dims      int
	version   string

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu     sync.Mutex
	logger *zap.Logger
}

// NewONNX loads model.onnx and vocab.txt from modelDir.
func NewONNX(modelDir string, seqLen, dims int, logger *zap.Logger) (*ONNX, error) {
	if modelDir == "" {
		return nil, errors.New("onnx model dir is empty")
	}
	if seqLen <= 0 {
		seqLen = 128
	}
	if dims <= 0 {
		dims = defaultHashingDims
	}

	libPath := resolveSharedLibraryPath(modelDir)
	if libPath == "" {
		return nil, fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(modelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}
	tokenizer, err := loadTokenizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("onnx model has no outputs")
	}

	m := &ONNX{
		tokenizer: tokenizer,
		seqLen:    seqLen,
		dims:      dims,
		version:   "onnx/" + filepath.Base(filepath.Clean(modelDir)),
		logger:    logger,
	}
	// Close releases whatever was allocated before a failure.
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	inputShape := ort.NewShape(1, int64(seqLen))
	if m.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	if m.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(dims))); err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{m.inputIDs, m.attentionMask}
	for _, in := range inputs {
		if in.Name == "token_type_ids" {
			if m.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
				return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
			}
			inputNames = append(inputNames, "token_type_ids")
			inputValues = append(inputValues, m.tokenTypeIDs)
		}
	}

	m.session, err = ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{outputs[0].Name},
		inputValues,
		[]ort.Value{m.output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	ok = true

	logger.Info("onnx embedding model loaded",
		zap.String("model", modelPath),
		zap.String("output", outputs[0].Name),
		zap.Int("seq_len", seqLen),
		zap.Int("dims", dims))
	return m, nil
}

func (m *ONNX) ModelVersion() string {
	return m.version
}

// Embed runs the texts one at a time through the shared preallocated tensors.
func (m *ONNX) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m == nil || m.session == nil {
		return nil, errors.New("onnx embedding model not initialized")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := m.embedOne(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *ONNX) embedOne(text string) ([]float32, error) {
	ids, attn := m.tokenizer.Encode(text, m.seqLen)

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputIDs.GetData(), ids)
	copy(m.attentionMask.GetData(), attn)
	if m.tokenTypeIDs != nil {
		clear(m.tokenTypeIDs.GetData())
	}
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	hidden := m.output.GetData()
	vec := make([]float32, m.dims)
	var count float32
	for tok := 0; tok < m.seqLen; tok++ {
		if attn[tok] == 0 {
			continue
		}
		row := hidden[tok*m.dims : (tok+1)*m.dims]
		for d, x := range row {
			vec[d] += x
		}
		count++
	}
	if count > 0 {
		for d := range vec {
			vec[d] /= count
		}
	}
	normalize(vec)
	return vec, nil
}

func (m *ONNX) Close() error {
	if m.session != nil {
		m.session.Destroy()
	}
	for _, t := range []*ort.Tensor[int64]{m.inputIDs, m.attentionMask, m.tokenTypeIDs} {
		if t != nil {
			t.Destroy()
		}
	}
	if m.output != nil {
		m.output.Destroy()
	}
	return nil
}

func loadTokenizer(dir string) (*WordPieceTokenizer, error) {
	for _, path := range []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	} {
		if _, err := os.Stat(path); err == nil {
			return LoadWordPieceTokenizer(path)
		}
	}
	return nil, fmt.Errorf("vocab.txt not found in %s", dir)
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime shared
// library. ONNXRUNTIME_SHARED_LIBRARY_PATH wins over the probed locations.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
