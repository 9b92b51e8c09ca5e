// Package intake runs one queued job end to end: load the page, run the
// decision pipeline, persist the document, hand it downstream, and keep the
// job record honest. Queue consumers stay transport-only.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/imaging"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
	"github.com/veridoc/docintake-worker/internal/storage"
)

// ProcessRequest is one dequeued intake job.
type ProcessRequest struct {
	JobID      string
	DocumentID string // assigned when empty
	SourceRef  string // path or object key of the scanned page
	ImageData  []byte // inline page bytes; preferred over SourceRef when set
	Format     string
}

// ProcessResult summarizes a finished job for the queue layer.
type ProcessResult struct {
	DocumentID string
	Label      string
	Degraded   bool
	FieldCount int
	DurationMs int64
}

// DocumentProcessor is what queue consumers need from the intake service.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// DocumentStore persists finalized documents and job records.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *pipeline.Document) error
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// Handoff delivers finalized documents downstream.
type Handoff interface {
	Enabled() bool
	Submit(ctx context.Context, doc *pipeline.Document) error
}

// Service wires the pipeline to persistence and the downstream handoff.
type Service struct {
	pipeline *pipeline.Pipeline
	store    DocumentStore
	handoff  Handoff
	maxEdge  int
	log      *logging.Logger
}

// NewService builds the intake service. handoff may be nil.
func NewService(p *pipeline.Pipeline, store DocumentStore, handoff Handoff, maxEdge int, log *logging.Logger) (*Service, error) {
	if p == nil {
		return nil, apperrors.NewFatalConfigError("a pipeline is required", nil)
	}
	if store == nil {
		return nil, apperrors.NewFatalConfigError("a document store is required", nil)
	}
	if log == nil {
		log = logging.NewLogger("intake", logging.LevelInfo)
	}
	return &Service{
		pipeline: p,
		store:    store,
		handoff:  handoff,
		maxEdge:  maxEdge,
		log:      log,
	}, nil
}

// ProcessDocument runs one job through the pipeline and persists the
// outcome. A degraded document is still a success; only cancellation,
// unreadable input, or a storage failure is an error.
func (s *Service) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}

	var (
		doc *pipeline.Document
		err error
	)
	if len(req.ImageData) > 0 {
		var img pipeline.PageImage
		img, err = imaging.FromBytes(req.SourceRef, req.ImageData, s.maxEdge)
		if err == nil {
			doc, err = s.pipeline.ProcessImage(ctx, docID, img)
		}
	} else {
		doc, err = s.pipeline.Process(ctx, docID, req.SourceRef)
	}
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", req.JobID, err)
	}

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.log.Error("document not persisted", "job", req.JobID, "doc", docID, "error", err)
		return nil, err
	}

	if s.handoff != nil && s.handoff.Enabled() {
		if err := s.handoff.Submit(ctx, doc); err != nil {
			// Downstream structuring is best-effort; the document is safe
			// in storage and can be re-submitted.
			s.log.Warn("downstream handoff failed", "job", req.JobID, "doc", docID, "error", err)
		}
	}

	result := &ProcessResult{
		DocumentID: docID,
		Label:      doc.Classification.Label,
		Degraded:   doc.Degraded,
		FieldCount: len(doc.Fields),
		DurationMs: time.Since(start).Milliseconds(),
	}
	s.log.Info("job processed", "job", req.JobID, "doc", docID,
		"label", result.Label, "degraded", result.Degraded, "durationMs", result.DurationMs)
	return result, nil
}

// UpdateJobStatus forwards a job record update to storage.
func (s *Service) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	return s.store.UpdateJobStatus(ctx, update)
}
