// Package rag retrieves previously processed receipts that resemble
// the one being extracted, so their settled JSON can steer the model
// as few-shot examples.
package rag

import (
	"context"
	"strings"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/internal/models"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

// Embedder maps text to a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	cfg      *config.RAGConfig
	embedder Embedder
	index    Index
	log      logger.Logger
}

func NewRetriever(cfg *config.RAGConfig, embedder Embedder, index Index, log logger.Logger) *Retriever {
	return &Retriever{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		log:      log,
	}
}

// Retrieve returns the exemplars most similar to text, best first.
// Every failure mode degrades to an empty result; retrieval must never
// block or fail the pipeline.
func (r *Retriever) Retrieve(ctx context.Context, text string) []Scored {
	if !r.cfg.Enabled || strings.TrimSpace(text) == "" {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.log.Warn("exemplar retrieval skipped: embedding failed", logger.Error(err))
		return nil
	}

	// Overfetch so the verified boost can promote entries sitting just
	// outside the raw top-k.
	scored, err := r.index.Search(ctx, vec, r.cfg.TopK+2)
	if err != nil {
		r.log.Warn("exemplar retrieval skipped: index search failed", logger.Error(err))
		return nil
	}

	out := make([]Scored, 0, r.cfg.TopK)
	for _, s := range scored {
		if s.Source == SourceUserVerified {
			s.Similarity += r.cfg.VerifiedBoost
		}
		if s.Similarity < r.cfg.MinSimilarity {
			continue
		}
		out = append(out, s)
	}
	sortBySimilarity(out)
	if len(out) > r.cfg.TopK {
		out = out[:r.cfg.TopK]
	}

	if len(out) == 0 {
		r.log.Debug("no similar receipts found")
		return nil
	}
	r.log.Info("retrieved similar receipts",
		logger.Int("count", len(out)),
		logger.Float64("best_similarity", out[0].Similarity))
	return out
}

// IndexReceipt embeds a finished receipt and upserts it as an
// exemplar. Indexing is best-effort: failures are logged, never
// returned, and never fail the receipt that triggered them.
func (r *Retriever) IndexReceipt(ctx context.Context, id, text string, rec *models.Receipt, verified bool) {
	if !r.cfg.Enabled || id == "" {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	ex, err := NewExemplar(id, text, rec, verified)
	if err != nil {
		r.log.Warn("exemplar not indexed", logger.String("receipt_id", id), logger.Error(err))
		return
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.log.Warn("exemplar not indexed: embedding failed", logger.String("receipt_id", id), logger.Error(err))
		return
	}
	ex.Vector = vec

	if err := r.index.Add(ctx, ex); err != nil {
		r.log.Warn("exemplar not indexed", logger.String("receipt_id", id), logger.Error(err))
		return
	}
	r.log.Debug("indexed receipt exemplar",
		logger.String("receipt_id", id),
		logger.Bool("verified", verified))
}
