package encoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultModelName = "all-MiniLM-L6-v2"
	defaultDimension = 384

	// Standard sequence length for MiniLM-class models.
	maxSequenceLength = 128
)

// Runtime cache directory prefixes purged on disk-full recovery. The ONNX
// runtime drops compiled-kernel artifacts under the temp dir and does not
// clean them up when /tmp fills.
var staleCachePrefixes = []string{"onnxruntime", "ort-", "mnemo-ort"}

// LocalConfig configures the local ONNX encoder.
type LocalConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath optionally points at libonnxruntime.so.
	LibraryPath string

	// Dimension is the embedding vector size (default 384).
	Dimension int

	// MaxConcurrent bounds concurrent inference calls (default NumCPU).
	MaxConcurrent int

	Logger zerolog.Logger
}

// onnxModel is the shared inference state. The runtime environment and the
// session are process-global; building a second one per caller both wastes
// memory and races inside the runtime, so exactly one is ever created.
type onnxModel struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	dimension int
}

var (
	modelMu  sync.Mutex
	modelPtr atomic.Pointer[onnxModel]
)

// Local embeds text with a local MiniLM ONNX model.
type Local struct {
	cfg    LocalConfig
	logger zerolog.Logger
	sem    chan struct{}
}

// NewLocal creates a local encoder. The model itself is loaded lazily on
// first Embed call, not here, to keep process startup fast.
func NewLocal(cfg LocalConfig) (*Local, error) {
	observability.EnsureRegistered()

	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, errors.New("tokenizer path is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultDimension
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU()
	}

	return &Local{
		cfg:    cfg,
		logger: cfg.Logger,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Embed returns a normalized embedding for text. Inference is CPU-bound and
// runs behind a bounded semaphore so bursts of calls cannot starve the rest
// of the process.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	vec, err := l.embedOnce(text)
	if err != nil && isNoSpace(err) {
		// Disk full while the runtime wrote cache artifacts. Purge stale
		// cache directories and retry exactly once; a second failure is
		// a hard error.
		l.logger.Warn().Err(err).Msg("Disk full during embedding, purging runtime caches and retrying")
		purgeStaleCaches(l.logger)
		vec, err = l.embedOnce(text)
	}
	observability.RecordEmbed(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	return vec, nil
}

// EmbedBatch embeds texts sequentially, preserving order.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (l *Local) Dimension() int {
	return l.cfg.Dimension
}

func (l *Local) ModelName() string {
	return defaultModelName
}

func (l *Local) embedOnce(text string) ([]float32, error) {
	model, err := l.getOrInit()
	if err != nil {
		return nil, err
	}
	return model.encode(text)
}

// getOrInit returns the process-wide model, initializing it on first use.
// Double-checked locking: the unlocked atomic load is the fast path, and
// concurrent first callers block behind one initialization instead of racing
// to build duplicate sessions.
func (l *Local) getOrInit() (*onnxModel, error) {
	if m := modelPtr.Load(); m != nil {
		return m, nil
	}

	modelMu.Lock()
	defer modelMu.Unlock()

	if m := modelPtr.Load(); m != nil {
		return m, nil
	}

	l.logger.Info().Str("model", l.cfg.ModelPath).Msg("Loading ONNX embedding model")

	if l.cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(l.cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer, err := loadTokenizer(l.cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		l.cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	model := &onnxModel{
		session:   session,
		tokenizer: tokenizer,
		dimension: l.cfg.Dimension,
	}

	// Warm up while still holding the lock: the first inference pays any
	// kernel compilation and caching cost exactly once, and concurrent
	// first callers never observe a half-warmed session.
	if _, err := model.encode("warmup"); err != nil {
		session.Destroy()
		return nil, fmt.Errorf("model warm-up failed: %w", err)
	}

	modelPtr.Store(model)
	l.logger.Info().Msg("ONNX model loaded and warmed up")

	return model, nil
}

// encode runs one inference: tokenize, run the transformer, mean-pool over
// attended tokens, normalize to a unit vector.
func (m *onnxModel) encode(text string) ([]float32, error) {
	tokens := m.tokenizer.Tokenize(text)

	inputIDs := make([]int64, maxSequenceLength)
	attentionMask := make([]int64, maxSequenceLength)
	tokenTypeIDs := make([]int64, maxSequenceLength)

	inputIDs[0] = m.tokenizer.clsToken
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > maxSequenceLength-2 { // reserve [CLS] and [SEP]
		tokenLen = maxSequenceLength - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[tokenLen+1] = m.tokenizer.sepToken
	attentionMask[tokenLen+1] = 1

	shape := ort.NewShape(1, int64(maxSequenceLength))

	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDsTensor.Destroy()

	inputs := []ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}
	outputs := []ort.Value{nil} // allocated by Run

	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	if len(outputs) == 0 || outputs[0] == nil {
		return nil, errors.New("no output tensors returned")
	}
	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("unexpected output tensor type")
	}

	return m.pool(outputTensor.GetData(), outputTensor.GetShape(), attentionMask)
}

// pool reduces the model output to a single vector. Some exports ship the
// pooled [1, dim] output directly; raw [1, seq, dim] outputs are mean-pooled
// over attended tokens.
func (m *onnxModel) pool(data []float32, shape ort.Shape, attentionMask []int64) ([]float32, error) {
	embedding := make([]float32, m.dimension)

	switch len(shape) {
	case 2:
		if len(data) < m.dimension {
			return nil, fmt.Errorf("output dimension mismatch: got %d, want %d", len(data), m.dimension)
		}
		copy(embedding, data[:m.dimension])

	case 3:
		seqLen := int(shape[1])
		hiddenSize := int(shape[2])
		if hiddenSize != m.dimension {
			return nil, fmt.Errorf("hidden size mismatch: got %d, want %d", hiddenSize, m.dimension)
		}

		var attended float32
		for i := 0; i < seqLen && i < len(attentionMask); i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hiddenSize
			for j := 0; j < hiddenSize; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, errors.New("no attended tokens to pool")
		}
		for j := range embedding {
			embedding[j] /= attended
		}

	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}

	return normalize(embedding), nil
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// isNoSpace reports whether err is a disk-full condition.
func isNoSpace(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no space left on device")
}

// purgeStaleCaches removes leftover runtime cache directories from the temp
// dir. Best effort: failures are logged and skipped.
func purgeStaleCaches(logger zerolog.Logger) {
	tmpBase := os.TempDir()
	entries, err := os.ReadDir(tmpBase)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not list temp dir for cache purge")
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		stale := false
		for _, prefix := range staleCachePrefixes {
			if strings.HasPrefix(name, prefix) {
				stale = true
				break
			}
		}
		if !stale {
			continue
		}

		path := filepath.Join(tmpBase, name)
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to remove stale cache")
			continue
		}
		logger.Info().Str("path", path).Msg("Removed stale runtime cache")
	}
}
