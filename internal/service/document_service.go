package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-chat-gateway-be/internal/dto"
	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/repository/specification"
	"ai-chat-gateway-be/internal/repository/unitofwork"
	"ai-chat-gateway-be/pkg/retrieval"

	"github.com/google/uuid"
)

type IDocumentService interface {
	Ingest(ctx context.Context, req *dto.IngestDocumentRequest) (*dto.IngestDocumentResponse, error)
	List(ctx context.Context) ([]*dto.DocumentResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, req *dto.SearchRequest) ([]retrieval.RAGResult, error)
}

type documentService struct {
	uowFactory       unitofwork.RepositoryFactory
	publisherService IPublisherService
	engine           *retrieval.Engine
	searchOpts       retrieval.Options
	logger           logger.ILogger
}

func NewDocumentService(
	uowFactory unitofwork.RepositoryFactory,
	publisherService IPublisherService,
	engine *retrieval.Engine,
	searchOpts retrieval.Options,
	log logger.ILogger,
) IDocumentService {
	return &documentService{
		uowFactory:       uowFactory,
		publisherService: publisherService,
		engine:           engine,
		searchOpts:       searchOpts,
		logger:           log,
	}
}

// Ingest upserts a document by slug and queues it for chunking and embedding.
// Re-ingesting an existing slug replaces its content and re-embeds.
func (s *documentService) Ingest(ctx context.Context, req *dto.IngestDocumentRequest) (*dto.IngestDocumentResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	doc, err := uow.DocumentRepository().FindOne(ctx, specification.Filter("slug", req.Slug))
	if err != nil {
		return nil, err
	}

	if doc == nil {
		doc = &entity.Document{
			Id:        uuid.New(),
			Title:     req.Title,
			Url:       req.Url,
			Slug:      req.Slug,
			Content:   req.Content,
			CreatedAt: time.Now(),
		}
		if err := uow.DocumentRepository().Create(ctx, doc); err != nil {
			return nil, err
		}
	} else {
		doc.Title = req.Title
		doc.Url = req.Url
		doc.Content = req.Content
		if err := uow.DocumentRepository().Update(ctx, doc); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(dto.PublishIngestDocumentMessage{DocumentId: doc.Id})
	if err != nil {
		return nil, err
	}
	if err := s.publisherService.Publish(ctx, payload); err != nil {
		return nil, fmt.Errorf("queue document for embedding: %w", err)
	}

	return &dto.IngestDocumentResponse{Id: doc.Id}, nil
}

func (s *documentService) List(ctx context.Context) ([]*dto.DocumentResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	docs, err := uow.DocumentRepository().FindAll(ctx,
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = &dto.DocumentResponse{
			Id:        d.Id,
			Title:     d.Title,
			Url:       d.Url,
			Slug:      d.Slug,
			CreatedAt: d.CreatedAt,
		}
	}
	return out, nil
}

func (s *documentService) Delete(ctx context.Context, id uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.DocumentChunkRepository().DeleteByDocumentId(ctx, id); err != nil {
		return err
	}
	if err := uow.DocumentRepository().Delete(ctx, id); err != nil {
		return err
	}

	return uow.Commit()
}

func (s *documentService) Search(ctx context.Context, req *dto.SearchRequest) ([]retrieval.RAGResult, error) {
	opts := s.searchOpts
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	return s.engine.Retrieve(ctx, req.Query, opts), nil
}
