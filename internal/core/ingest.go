package core

import (
	"context"

	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/internal/store"
	"github.com/haasonsaas/recall/pkg/models"
)

// IngestDocument persists a document and its extracted chunks, then stores
// one memory item per chunk through the normal embed and index flow.
// Parsing happens outside the core; callers hand over text chunks in order.
// A chunk whose index is unset takes its position in the slice.
func (c *Core) IngestDocument(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) (*models.Document, error) {
	if doc == nil {
		return nil, store.Constraint("document required")
	}
	if len(chunks) == 0 {
		return nil, store.Constraint("document: at least one chunk required")
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.meta.CreateDocument(sctx, doc); err != nil {
		return nil, err
	}
	for i, ch := range chunks {
		ch.DocumentID = doc.ID
		if ch.ChunkIndex == 0 && i > 0 {
			ch.ChunkIndex = i
		}
	}
	if err := c.meta.CreateDocumentChunks(sctx, chunks); err != nil {
		return nil, err
	}

	inputs := make([]memory.StoreInput, len(chunks))
	for i, ch := range chunks {
		inputs[i] = memory.StoreInput{
			Content:    ch.Content,
			Category:   models.CategoryDocument,
			SourceType: models.SourceDocumentChunk,
			SourceID:   ch.ID,
			Metadata: map[string]any{
				"document_id": doc.ID,
				"chunk_index": ch.ChunkIndex,
			},
		}
	}
	lctx, lcancel := c.llmCtx(ctx)
	defer lcancel()
	if _, err := c.memories.StoreBatch(lctx, inputs); err != nil {
		return nil, err
	}

	doc.Processed = true
	uctx, ucancel := c.storeCtx(ctx)
	defer ucancel()
	if err := c.meta.UpdateDocument(uctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IngestWebPage is the web analogue of IngestDocument: one memory item per
// content chunk, linked back to the chunk.
func (c *Core) IngestWebPage(ctx context.Context, page *models.WebPage, chunks []*models.WebContentChunk) (*models.WebPage, error) {
	if page == nil {
		return nil, store.Constraint("web page required")
	}
	if len(chunks) == 0 {
		return nil, store.Constraint("web page: at least one chunk required")
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.meta.CreateWebPage(sctx, page); err != nil {
		return nil, err
	}
	for i, ch := range chunks {
		ch.WebPageID = page.ID
		if ch.ChunkIndex == 0 && i > 0 {
			ch.ChunkIndex = i
		}
	}
	if err := c.meta.CreateWebContentChunks(sctx, chunks); err != nil {
		return nil, err
	}

	inputs := make([]memory.StoreInput, len(chunks))
	for i, ch := range chunks {
		inputs[i] = memory.StoreInput{
			Content:    ch.Content,
			Category:   models.CategoryWeb,
			SourceType: models.SourceWebContentChunk,
			SourceID:   ch.ID,
			Metadata: map[string]any{
				"web_page_id": page.ID,
				"chunk_index": ch.ChunkIndex,
			},
		}
	}
	lctx, lcancel := c.llmCtx(ctx)
	defer lcancel()
	if _, err := c.memories.StoreBatch(lctx, inputs); err != nil {
		return nil, err
	}

	page.Processed = true
	uctx, ucancel := c.storeCtx(ctx)
	defer ucancel()
	if err := c.meta.UpdateWebPage(uctx, page); err != nil {
		return nil, err
	}
	return page, nil
}
