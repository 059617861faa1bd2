//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a BERT-family sentence encoder through ONNX Runtime. It
// requires CGO, the onnxruntime shared library and the model's WordPiece vocab.txt.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	modelID    string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	layout     onnxLayout
	inputs     []*ort.Tensor[int64] // parallel to layout.Inputs
	output     *ort.Tensor[float32]
}

// NewONNXEmbedder loads the vocabulary, inspects the model's inputs and outputs
// and prepares a session with pre-allocated tensors.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.MaxTokens < 2 {
		opts.MaxTokens = 128
	}
	tokenizer, err := LoadWordPieceTokenizer(opts.VocabPath, opts.Lowercase)
	if err != nil {
		return nil, err
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect ONNX model %s: %w", opts.ModelPath, err)
	}
	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputs := make([]onnxOutput, len(outputInfo))
	for i, info := range outputInfo {
		outputs[i] = onnxOutput{Name: info.Name, Dims: info.Dimensions}
	}
	layout, err := resolveONNXLayout(inputNames, outputs, opts.OutputName, opts.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("ONNX model %s: %w", opts.ModelPath, err)
	}

	e := &ONNXEmbedder{
		modelID:    opts.ModelID,
		dimensions: opts.Dimensions,
		maxTokens:  opts.MaxTokens,
		tokenizer:  tokenizer,
		layout:     layout,
	}
	inputs := make([]ort.ArbitraryTensor, 0, len(layout.Inputs))
	for _, name := range layout.Inputs {
		t, err := ort.NewTensor(ort.NewShape(1, int64(opts.MaxTokens)), make([]int64, opts.MaxTokens))
		if err != nil {
			e.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		e.inputs = append(e.inputs, t)
		inputs = append(inputs, t)
	}

	outShape := ort.NewShape(1, int64(opts.Dimensions))
	outLen := opts.Dimensions
	if layout.MeanPool {
		outShape = ort.NewShape(1, int64(opts.MaxTokens), int64(opts.Dimensions))
		outLen = opts.MaxTokens * opts.Dimensions
	}
	e.output, err = ort.NewTensor(outShape, make([]float32, outLen))
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(opts.ModelPath, layout.Inputs, []string{layout.Output},
		inputs, []ort.ArbitraryTensor{e.output}, nil)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", opts.ModelPath, err)
	}
	return e, nil
}

// Embed returns the unit-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.embed(ctx, text)
	if err != nil {
		return nil, models.NewEmbeddingError(e.modelID, -1, err)
	}
	return emb, nil
}

func (e *ONNXEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("embedder is closed")
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	for i, name := range e.layout.Inputs {
		switch name {
		case InputIDsName:
			copy(e.inputs[i].GetData(), inputIDs)
		case AttentionMaskName:
			copy(e.inputs[i].GetData(), attentionMask)
		case TokenTypeIDsName:
			copy(e.inputs[i].GetData(), tokenTypeIDs)
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	var embedding []float32
	if e.layout.MeanPool {
		embedding = meanPool(e.output.GetData(), attentionMask, e.dimensions)
	} else {
		embedding = make([]float32, e.dimensions)
		copy(embedding, e.output.GetData())
	}
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch embeds each text in order. Inference is serialized on the shared session.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.embed(ctx, text)
		if err != nil {
			return nil, models.NewEmbeddingError(e.modelID, i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns the configured model identifier.
func (e *ONNXEmbedder) ModelID() string {
	return e.modelID
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range e.inputs {
		_ = t.Destroy()
	}
	e.inputs = nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
