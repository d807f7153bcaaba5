// Package model provides the ONNX Runtime language model backend and
// the registry that manages its lazy, idempotent loading.
package model

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/lexera/go-perplex/internal/ports"
)

// Config locates the model artifacts and tunes the runtime session.
type Config struct {
	// ModelPath is the exported causal LM, e.g. "models/gpt2/model.onnx".
	ModelPath string `yaml:"model_path" validate:"required"`

	// TokenizerPath is the HuggingFace tokenizer.json next to the model.
	TokenizerPath string `yaml:"tokenizer_path" validate:"required"`

	// SharedLibraryPath points at libonnxruntime.so. Empty falls back to
	// the ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable, then to
	// the system loader.
	SharedLibraryPath string `yaml:"shared_library_path"`

	// BOSToken and EOSToken override the boundary marker literals. Empty
	// values resolve through the common defaults for the tokenizer.
	BOSToken string `yaml:"bos_token"`
	EOSToken string `yaml:"eos_token"`

	// Device selects the execution provider: "cpu" (default) or "cuda".
	Device string `yaml:"device" validate:"omitempty,oneof=cpu cuda"`

	// IntraOpThreads and InterOpThreads bound runtime parallelism. Zero
	// keeps the runtime defaults.
	IntraOpThreads int `yaml:"intra_op_threads" validate:"gte=0"`
	InterOpThreads int `yaml:"inter_op_threads" validate:"gte=0"`
}

// bosCandidates and eosCandidates cover the marker conventions of the
// tokenizer families the exporter supports. GPT-2 reuses one literal
// for both ends.
var (
	bosCandidates = []string{"<bos>", "<s>", "<|endoftext|>"}
	eosCandidates = []string{"<eos>", "</s>", "<|endoftext|>"}
)

var _ ports.LanguageModel = (*ONNXModel)(nil)

// ONNXModel implements ports.LanguageModel over an ONNX Runtime
// session. Sequence length varies per request, so inference goes
// through a dynamic session with fresh input tensors per call; the
// session itself is safe for concurrent Run.
type ONNXModel struct {
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	bos     int64
	eos     int64
}

// Load initializes the runtime environment once per process, loads the
// tokenizer and the ONNX session, and resolves the boundary marker ids.
func Load(cfg Config) (*ONNXModel, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("model load: model_path and tokenizer_path are required")
	}

	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	bos, err := resolveMarker(tk, cfg.BOSToken, bosCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve bos token: %w", err)
	}
	eos, err := resolveMarker(tk, cfg.EOSToken, eosCandidates)
	if err != nil {
		return nil, fmt.Errorf("resolve eos token: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra threads: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return nil, fmt.Errorf("set inter threads: %w", err)
		}
	}
	if cfg.Device == "cuda" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("create cuda provider options: %w", err)
		}
		err = opts.AppendExecutionProviderCUDA(cudaOpts)
		cudaOpts.Destroy()
		if err != nil {
			return nil, fmt.Errorf("enable cuda execution provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session %s: %w", cfg.ModelPath, err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Int64("bos", bos).
		Int64("eos", eos).
		Msg("language model loaded")

	return &ONNXModel{tk: tk, session: session, bos: bos, eos: eos}, nil
}

func initRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

func resolveMarker(tk *tokenizer.Tokenizer, override string, candidates []string) (int64, error) {
	if override != "" {
		if id, ok := tk.TokenToId(override); ok {
			return int64(id), nil
		}
		return 0, fmt.Errorf("token %q not in vocabulary", override)
	}
	for _, cand := range candidates {
		if id, ok := tk.TokenToId(cand); ok {
			return int64(id), nil
		}
	}
	return 0, fmt.Errorf("none of %v found in vocabulary", candidates)
}

// Tokenize encodes text without special tokens; the scorer applies its
// own boundary markers.
func (m *ONNXModel) Tokenize(text string) ([]int64, error) {
	enc, err := m.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	ids := make([]int64, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int64(id)
	}
	return ids, nil
}

// Forward runs one inference over the sequence and returns the logits
// reshaped to one vector per input position.
func (m *ONNXModel) Forward(ctx context.Context, ids []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("forward: empty token sequence")
	}

	shape := ort.NewShape(1, int64(n))
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	mask := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}
	attention, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	defer attention.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{inputIDs, attention}, outputs); err != nil {
		return nil, ports.NewModelError("onnx", "forward", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, ports.NewModelError("onnx", "forward",
			fmt.Errorf("%w: logits output is not float32", ports.ErrInvalidResponse))
	}

	dims := logits.GetShape()
	if len(dims) != 3 || dims[0] != 1 || dims[1] != int64(n) || dims[2] <= 0 {
		return nil, ports.NewModelError("onnx", "forward",
			fmt.Errorf("%w: unexpected logits shape %v for %d tokens", ports.ErrInvalidResponse, dims, n))
	}

	vocab := int(dims[2])
	flat := logits.GetData()
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		// Copy out of the tensor buffer; it is destroyed on return.
		row := make([]float32, vocab)
		copy(row, flat[i*vocab:(i+1)*vocab])
		out[i] = row
	}
	return out, nil
}

// BOS returns the beginning-of-sequence marker id.
func (m *ONNXModel) BOS() int64 { return m.bos }

// EOS returns the end-of-sequence marker id.
func (m *ONNXModel) EOS() int64 { return m.eos }

// Close releases the runtime session.
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
