package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
)

type EvidenceHandler struct {
	svc *service.EvidenceService
}

func NewEvidenceHandler(svc *service.EvidenceService) *EvidenceHandler {
	return &EvidenceHandler{svc: svc}
}

// formUpload opens a multipart file field as a service upload.
func formUpload(c *gin.Context, field string) (service.Upload, func(), error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return service.Upload{}, nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return service.Upload{}, nil, err
	}
	return service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, func() { f.Close() }, nil
}

// Upload POST /evidence?kind=deposit|movement|delivery|adhoc (multipart "file")
func (h *EvidenceHandler) Upload(c *gin.Context) {
	upload, closeFn, err := formUpload(c, "file")
	if err != nil {
		BadRequest(c, "adjunte el archivo en el campo file")
		return
	}
	defer closeFn()
	key, err := h.svc.Upload(c.Request.Context(), c.Query("kind"), upload, GetActor(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, gin.H{"key": key})
}

// URL GET /evidence/url?key=...
func (h *EvidenceHandler) URL(c *gin.Context) {
	u, err := h.svc.URL(c.Request.Context(), c.Query("key"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"url": u})
}
