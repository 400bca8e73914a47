package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned by providers that are registered but not
// usable, for example without an api key.
var ErrUnavailable = errors.New("ai provider unavailable")

type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

type IProvider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type IGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type generator struct {
	provider IProvider
	model    string
}

// NewGenerator binds a provider to a model. A model set on the request
// wins.
func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Model == "" {
		req.Model = g.model
	}
	return g.provider.Generate(ctx, req)
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
