// Package rag answers questions from the documents visible to a user by
// retrieving the best matching chunks and handing them to a synthesizer.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/askscribe/internal/ai"
	"github.com/xxxsen/askscribe/internal/retrieval"
)

const (
	NotInContextAnswer = "**Answer not in context**\n\nI couldn't find relevant information in your uploaded documents to answer this question. Please make sure you have uploaded documents that contain information related to your query."
	ErrorAnswer        = "**Error Processing Question**\n\nI encountered an error while processing your question. Please try again or contact support if the issue persists."

	DefaultTopK = 5
)

type Searcher interface {
	Search(ctx context.Context, query string, ownerID string, k int) ([]retrieval.Result, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contextText string) (string, error)
}

type Source struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"context_documents"`
}

type Config struct {
	// Timeout bounds a single synthesis attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed synthesis.
	Retries       int
	RetryInterval time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

type Engine struct {
	searcher    Searcher
	synthesizer Synthesizer
	cfg         Config
	cache       *expirable.LRU[string, string]
}

func NewEngine(searcher Searcher, synthesizer Synthesizer, cfg Config) *Engine {
	e := &Engine{
		searcher:    searcher,
		synthesizer: synthesizer,
		cfg:         cfg,
	}
	if cfg.CacheSize > 0 {
		e.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return e
}

// Answer never fails: search or synthesis errors are logged and replaced
// by ErrorAnswer, and an empty search yields NotInContextAnswer without
// calling the synthesizer.
func (e *Engine) Answer(ctx context.Context, question string, ownerID string) Answer {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", ownerID))

	results, err := e.searcher.Search(ctx, question, ownerID, DefaultTopK)
	if err != nil {
		logger.Error("search chunks failed", zap.Error(err))
		return Answer{Text: ErrorAnswer, Sources: []Source{}}
	}
	if len(results) == 0 {
		logger.Info("no relevant chunks found")
		return Answer{Text: NotInContextAnswer, Sources: []Source{}}
	}

	parts := make([]string, 0, len(results))
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
		sources = append(sources, Source{Name: r.DocumentName, Score: r.Score})
	}
	contextText := strings.Join(parts, "\n\n")

	key := cacheKey(question, contextText)
	if e.cache != nil {
		if text, ok := e.cache.Get(key); ok {
			logger.Debug("answer served from cache")
			return Answer{Text: text, Sources: sources}
		}
	}

	text, err := e.synthesize(ctx, question, contextText)
	if err != nil {
		logger.Error("synthesize answer failed", zap.Int("chunks", len(results)), zap.Error(err))
		return Answer{Text: ErrorAnswer, Sources: []Source{}}
	}
	if e.cache != nil {
		e.cache.Add(key, text)
	}
	logger.Info("answered question", zap.Int("chunks", len(results)))
	return Answer{Text: text, Sources: sources}
}

func (e *Engine) synthesize(ctx context.Context, question, contextText string) (string, error) {
	if e.synthesizer == nil {
		return "", fmt.Errorf("synthesizer not configured")
	}
	op := func() (string, error) {
		attemptCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}
		text, err := e.synthesizer.Synthesize(attemptCtx, question, contextText)
		if err != nil {
			if errors.Is(err, ai.ErrUnavailable) || ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			logutil.GetLogger(ctx).Warn("synthesize attempt failed", zap.Error(err))
			return "", err
		}
		return text, nil
	}
	return backoff.RetryWithData(op, e.newBackOff(ctx))
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	var opts []backoff.ExponentialBackOffOpts
	if e.cfg.RetryInterval > 0 {
		opts = append(opts, backoff.WithInitialInterval(e.cfg.RetryInterval))
	}
	retries := e.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(opts...), uint64(retries))
	return backoff.WithContext(b, ctx)
}

func cacheKey(question, contextText string) string {
	sum := sha256.Sum256([]byte(question + "\x00" + contextText))
	return hex.EncodeToString(sum[:])
}
