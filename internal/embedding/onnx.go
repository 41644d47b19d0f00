//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/memograph/pkg/utils"
)

// ONNXConfig configures the ONNX embedder.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	// OutputName is the pooled sentence-embedding output of the model; defaults to "output".
	OutputName string
}

// ONNXEmbedder uses ONNX Runtime to produce embeddings. It requires CGO and the onnxruntime shared library.
// The session is loaded once and shared; Run is serialized internally.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	cache      *EmbeddingCache
	tokenizer  Tokenizer
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder. InitializeEnvironment is called if not already done.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	cache, err := NewEmbeddingCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	tokenizer := &SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.Tokenize("", cfg.MaxTokens)
	shape := ort.NewShape(1, int64(cfg.MaxTokens))

	var tensors []interface{ Destroy() error }
	cleanup := func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
		cache.Close()
	}

	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	tensors = append(tensors, inputIDsTensor)
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tensors = append(tensors, attentionMaskTensor)
	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	tensors = append(tensors, tokenTypeIDsTensor)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tensors = append(tensors, outputTensor)

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:             session,
		dimensions:          cfg.Dimensions,
		maxTokens:           cfg.MaxTokens,
		cache:               cache,
		tokenizer:           tokenizer,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		outputTensor:        outputTensor,
	}, nil
}

// Embed returns the embedding for text, using the cache when available.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData()[:e.dimensions])
	utils.NormalizeL2(embedding)
	e.cache.Set(text, embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text; the model runs with batch size 1.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session, tensors, and cache.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []interface{ Destroy() error }{
		e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor, e.outputTensor,
	} {
		_ = t.Destroy()
	}
	e.cache.Close()
	return err
}
