// Package memory provides an in-process extractor for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Response scripts the outcome for one unit key.
type Response struct {
	Doc pipeline.ExtractedDocument
	Err error
}

// Extractor synthesizes documents locally. Unscripted keys succeed with a
// minimal document, so the default behavior is a happy path.
type Extractor struct {
	mu      sync.Mutex
	scripts map[string][]Response
	clock   pipeline.Clock
}

// NewExtractor constructs an Extractor.
func NewExtractor(clock pipeline.Clock) *Extractor {
	return &Extractor{
		scripts: make(map[string][]Response),
		clock:   clock,
	}
}

// Script queues responses for a key. Each Extract call consumes one response
// in order; once exhausted the key falls back to the synthesized default.
func (e *Extractor) Script(key string, responses ...Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[key] = append(e.scripts[key], responses...)
}

// Extract returns the next scripted response for the unit's key, or a
// synthesized document when nothing is scripted.
func (e *Extractor) Extract(ctx context.Context, unit pipeline.WorkUnit) (pipeline.ExtractedDocument, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.ExtractedDocument{}, err
	}
	e.mu.Lock()
	queue := e.scripts[unit.Key]
	if len(queue) > 0 {
		next := queue[0]
		e.scripts[unit.Key] = queue[1:]
		e.mu.Unlock()
		return next.Doc, next.Err
	}
	e.mu.Unlock()

	now := e.clock.Now()
	return pipeline.ExtractedDocument{
		Key:         unit.Key,
		SourceURL:   unit.Key,
		Title:       unit.Label,
		EffectiveAt: &now,
		Fields:      map[string]string{"source": unit.Key},
	}, nil
}
