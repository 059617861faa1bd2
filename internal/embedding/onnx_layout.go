package embedding

import (
	"fmt"
	"strings"

	"github.com/hyperjump/proshno/internal/models"
)

// ONNX input and output names used by exported BERT-family sentence encoders.
const (
	InputIDsName      = "input_ids"
	AttentionMaskName = "attention_mask"
	TokenTypeIDsName  = "token_type_ids"

	// ONNXOutputName is the pooled-embedding output of exported sentence-transformer models.
	ONNXOutputName = "sentence_embedding"
)

// Token-level outputs that are mean-pooled over the attention mask when the
// model has no pooled output.
var tokenOutputNames = []string{"last_hidden_state", "token_embeddings"}

// ONNXOptions configures NewONNXEmbedder.
type ONNXOptions struct {
	ModelID   string
	ModelPath string
	// VocabPath is the WordPiece vocab.txt shipped with the model.
	VocabPath string
	Lowercase bool
	// OutputName overrides output discovery; a rank-3 output is mean-pooled.
	OutputName string
	Dimensions int
	MaxTokens  int
}

// onnxOutput describes one model output as reported by ONNX Runtime.
type onnxOutput struct {
	Name string
	Dims []int64
}

// onnxLayout is how a model is fed and read.
type onnxLayout struct {
	Inputs   []string
	Output   string
	MeanPool bool
}

// resolveONNXLayout checks the model's declared inputs and picks the embedding
// output. Inputs keep the model's order.
func resolveONNXLayout(inputs []string, outputs []onnxOutput, outputName string, dimensions int) (onnxLayout, error) {
	var layout onnxLayout
	hasIDs := false
	for _, name := range inputs {
		switch name {
		case InputIDsName:
			hasIDs = true
		case AttentionMaskName, TokenTypeIDsName:
		default:
			return layout, fmt.Errorf("unsupported model input %q (expected %s, %s or %s)",
				name, InputIDsName, AttentionMaskName, TokenTypeIDsName)
		}
		layout.Inputs = append(layout.Inputs, name)
	}
	if !hasIDs {
		return layout, fmt.Errorf("model has no %s input", InputIDsName)
	}

	out, ok := pickOutput(outputs, outputName)
	if !ok {
		names := make([]string, len(outputs))
		for i, o := range outputs {
			names[i] = o.Name
		}
		if outputName != "" {
			return layout, fmt.Errorf("model has no output %q (outputs: %s)", outputName, strings.Join(names, ", "))
		}
		return layout, fmt.Errorf("model has no embedding output (outputs: %s)", strings.Join(names, ", "))
	}
	switch len(out.Dims) {
	case 2:
	case 3:
		layout.MeanPool = true
	default:
		return layout, fmt.Errorf("output %q has rank %d, want 2 or 3", out.Name, len(out.Dims))
	}
	if last := out.Dims[len(out.Dims)-1]; last > 0 && int(last) != dimensions {
		return layout, fmt.Errorf("%w: output %q has %d dimensions, configured %d",
			models.ErrDimensionMismatch, out.Name, last, dimensions)
	}
	layout.Output = out.Name
	return layout, nil
}

func pickOutput(outputs []onnxOutput, outputName string) (onnxOutput, bool) {
	candidates := append([]string{ONNXOutputName}, tokenOutputNames...)
	if outputName != "" {
		candidates = []string{outputName}
	}
	for _, want := range candidates {
		for _, o := range outputs {
			if o.Name == want {
				return o, true
			}
		}
	}
	return onnxOutput{}, false
}

// meanPool averages the token vectors of hidden (tokens x dim, row-major) whose
// attention mask is set.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	sum := make([]float64, dim)
	n := 0
	for tok, m := range mask {
		if m == 0 || (tok+1)*dim > len(hidden) {
			continue
		}
		row := hidden[tok*dim : (tok+1)*dim]
		for i, v := range row {
			sum[i] += float64(v)
		}
		n++
	}
	out := make([]float32, dim)
	if n == 0 {
		return out
	}
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}
