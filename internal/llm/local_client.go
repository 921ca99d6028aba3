package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

const defaultLocalContext = 2048

// LocalClient embeds in process with llama.cpp loaded through yzma.
// A llama context is not safe for concurrent use, calls are serialized.
type LocalClient struct {
	ModelFile string
	Prefixes  Prefixes

	mu        sync.Mutex
	lctx      llama.Context
	model     llama.Model
	useEncode bool
	maxTokens int
}

func NewLocalClient(modelFile, libPath string, prefixes Prefixes) (*LocalClient, error) {
	if _, err := os.Stat(modelFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelFile)
	}
	if err := llama.Load(libPath); err != nil {
		return nil, fmt.Errorf("unable to load llama library from %s: %w", libPath, err)
	}
	llama.Init()

	model, err := llama.ModelLoadFromFile(modelFile, llama.ModelDefaultParams())
	if err != nil {
		return nil, fmt.Errorf("unable to load model: %w", err)
	}

	// BERT style encoders (e5, nomic) need Encode, decoder models need Decode
	arch, _ := llama.ModelMetaValStr(model, "general.architecture")
	if arch == "" {
		arch = strings.ToLower(modelFile)
	}
	useEncode := strings.Contains(arch, "bert") || strings.Contains(arch, "e5")

	maxTokens := contextLength(model, arch)

	ctxParams := llama.ContextDefaultParams()
	ctxParams.NCtx = uint32(maxTokens)
	ctxParams.NBatch = uint32(maxTokens)
	ctxParams.NUbatch = uint32(maxTokens)
	ctxParams.Embeddings = 1
	ctxParams.PoolingType = llama.PoolingTypeMean

	lctx, err := llama.InitFromModel(model, ctxParams)
	if err != nil {
		llama.ModelFree(model)
		return nil, fmt.Errorf("unable to initialize context: %w", err)
	}

	return &LocalClient{
		ModelFile: modelFile,
		Prefixes:  prefixes,
		lctx:      lctx,
		model:     model,
		useEncode: useEncode,
		maxTokens: maxTokens,
	}, nil
}

// contextLength reads the training context from GGUF metadata.
func contextLength(model llama.Model, arch string) int {
	keys := []string{arch + ".context_length", "general.context_length"}
	for _, key := range keys {
		if s, ok := llama.ModelMetaValStr(model, key); ok {
			if v, err := strconv.Atoi(s); err == nil && v > 0 {
				return v
			}
		}
	}
	return defaultLocalContext
}

func (c *LocalClient) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vocab := llama.ModelGetVocab(c.model)
	tokens := llama.Tokenize(vocab, c.Prefixes.apply(text, role), true, true)

	// n_ubatch must cover n_tokens
	if len(tokens) > c.maxTokens {
		tokens = tokens[:c.maxTokens]
	}
	batch := llama.BatchGetOne(tokens)

	var (
		ret int32
		err error
	)
	if c.useEncode {
		ret, err = llama.Encode(c.lctx, batch)
	} else {
		ret, err = llama.Decode(c.lctx, batch)
	}
	if err != nil {
		return nil, fmt.Errorf("llama processing failed: %w", err)
	}
	if ret != 0 {
		return nil, fmt.Errorf("llama processing failed with code %d", ret)
	}

	vec, err := llama.GetEmbeddingsSeq(c.lctx, 0, llama.ModelNEmbd(c.model))
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	return normalize(append([]float32(nil), vec...)), nil
}

func (c *LocalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lctx != 0 {
		llama.Free(c.lctx)
		c.lctx = 0
	}
	if c.model != 0 {
		llama.ModelFree(c.model)
		c.model = 0
	}
	return nil
}
