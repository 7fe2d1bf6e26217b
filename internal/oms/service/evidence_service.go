package service

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Evidence kinds accepted by the upload endpoint.
var evidenceKinds = map[string]bool{
	"deposit":  true,
	"movement": true,
	"delivery": true,
	"adhoc":    true,
}

const maxEvidenceSize = 10 << 20

// EvidenceService stores receipts and photos in object storage and hands
// back the key callers attach to deposits, movements and deliveries.
type EvidenceService struct {
	objects ObjectStore
}

func NewEvidenceService(objects ObjectStore) *EvidenceService {
	return &EvidenceService{objects: objects}
}

func (s *EvidenceService) Upload(ctx context.Context, kind string, file Upload, actor Actor) (string, error) {
	if s.objects == nil {
		return "", validationf("el almacenamiento de evidencias no está configurado")
	}
	if !evidenceKinds[kind] {
		return "", validationf("tipo de evidencia desconocido: %s", kind)
	}
	if file.Size <= 0 || file.Size > maxEvidenceSize {
		return "", validationf("el archivo debe pesar entre 1 byte y 10 MB")
	}
	ct := strings.ToLower(file.ContentType)
	if !strings.HasPrefix(ct, "image/") && ct != "application/pdf" {
		return "", validationf("solo se aceptan imágenes o PDF")
	}
	key := evidenceKey(kind, actor.ID, file.Filename)
	if err := s.objects.Put(ctx, key, file.Body, file.Size, file.ContentType); err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	return key, nil
}

// URL returns a short-lived download link.
func (s *EvidenceService) URL(ctx context.Context, key string) (string, error) {
	if s.objects == nil {
		return "", validationf("el almacenamiento de evidencias no está configurado")
	}
	if strings.Contains(key, "..") || key == "" {
		return "", validationf("clave de evidencia inválida")
	}
	return s.objects.PresignedURL(ctx, key, 15*time.Minute)
}
