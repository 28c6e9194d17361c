package handler

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ragcore-service/internal/pkg/logger"
	"ragcore-service/pkg/ragcore/job"
	"ragcore-service/pkg/ragcore/lexical"
	"ragcore-service/pkg/ragcore/tenant"
	"ragcore-service/pkg/ragcore/vectorindex"
)

// uploadRequest is the document-upload payload spec.md §4.1 describes:
// raw extracted text plus the filename a citation later shows the user.
type uploadRequest struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Text       string `json:"text"`
}

// IngestionHandler turns a document upload into a queued ingestion Job
// and lets the caller poll its progress, grounded on the teacher's
// NotificationHandler's request/response shape.
type IngestionHandler struct {
	store        job.Store
	queue        job.Queue
	vectorStore  vectorindex.Store
	lexicalStore lexical.Store
	uploadDir    string
	logger       logger.ILogger
}

func NewIngestionHandler(store job.Store, queue job.Queue, vectorStore vectorindex.Store, lexicalStore lexical.Store, uploadDir string, log logger.ILogger) *IngestionHandler {
	return &IngestionHandler{store: store, queue: queue, vectorStore: vectorStore, lexicalStore: lexicalStore, uploadDir: uploadDir, logger: log}
}

func (h *IngestionHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/rag/documents", h.upload)
	router.Get("/rag/jobs/:job_id", h.getJob)
	router.Delete("/rag/documents/:document_id", h.deleteDocument)
}

func (h *IngestionHandler) upload(c *fiber.Ctx) error {
	tenantID, _ := c.Locals("tenant_id").(string)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing tenant"})
	}

	var req uploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	now := time.Now()
	j := &job.Job{
		JobID:      uuid.NewString(),
		TenantID:   tenantID,
		Kind:       job.KindDocumentUpload,
		DocumentID: req.DocumentID,
		RawText:    req.Text,
		Filename:   req.Filename,
		Status:     job.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ctx := c.Context()

	if err := h.persistUploadedFile(tenantID, req.DocumentID, req.Text); err != nil {
		h.logger.Error("IngestionHandler", "persist uploaded file failed", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store document"})
	}

	if err := h.store.Create(ctx, j); err != nil {
		h.logger.Error("IngestionHandler", "create job failed", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create job"})
	}
	if err := h.queue.Enqueue(ctx, *j); err != nil {
		h.logger.Error("IngestionHandler", "enqueue job failed", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to enqueue job"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": j.JobID, "document_id": j.DocumentID})
}

// persistUploadedFile writes the raw document text under
// <UPLOAD_DIR>/<tenant_id>/<document_id>.txt per spec.md §4.1, so a later
// deleteDocument call has a file to remove alongside the index entries.
func (h *IngestionHandler) persistUploadedFile(tenantID, documentID, text string) error {
	dir := filepath.Join(h.uploadDir, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, documentID+".txt"), []byte(text), 0o644)
}

// deleteDocument cascades a document's removal to both indices and its
// stored file, per spec.md §3's "deletion is a first-class operation that
// must cascade to every chunk and both indices."
func (h *IngestionHandler) deleteDocument(c *fiber.Ctx) error {
	tenantID, _ := c.Locals("tenant_id").(string)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing tenant"})
	}
	documentID := c.Params("document_id")
	if documentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "document_id is required"})
	}

	t := tenant.ID(tenantID)
	ctx := c.Context()

	if err := h.vectorStore.DeleteByDocument(ctx, t, documentID); err != nil {
		h.logger.Error("IngestionHandler", "delete vector entries failed", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete vector index entries"})
	}
	if err := h.lexicalStore.DeleteByDocument(ctx, t, documentID); err != nil {
		h.logger.Error("IngestionHandler", "delete lexical entries failed", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to delete lexical index entries"})
	}

	path := filepath.Join(h.uploadDir, tenantID, documentID+".txt")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("IngestionHandler", "delete uploaded file failed", map[string]interface{}{"error": err.Error()})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *IngestionHandler) getJob(c *fiber.Ctx) error {
	j, err := h.store.Get(c.Context(), c.Params("job_id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(j)
}
