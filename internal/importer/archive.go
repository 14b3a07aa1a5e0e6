package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/storage"
)

// ArchiveStore locates archived batches in object storage.
type ArchiveStore interface {
	ImportsBucket() string
	PresignExpire() time.Duration
	Exists(ctx context.Context, bucket, key string) (bool, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// SetArchiveStore enables archive downloads.
func (s *Service) SetArchiveStore(a ArchiveStore) { s.archives = a }

// ArchiveURL returns a short-lived download link for a batch's raw text.
// Archives hold every line of a batch, so only super admins may fetch them.
func (s *Service) ArchiveURL(ctx context.Context, ac *access.AuthContext, batchID uuid.UUID) (string, error) {
	if !ac.IsSuperAdmin() {
		return "", fmt.Errorf("%w: super admin required", models.ErrForbidden)
	}
	if s.archives == nil {
		return "", fmt.Errorf("%w: archive storage not configured", models.ErrNotFound)
	}
	bucket := s.archives.ImportsBucket()
	key := storage.ImportArchiveKey(batchID.String())
	ok, err := s.archives.Exists(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("check archive: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: batch %s has not been archived", models.ErrNotFound, batchID)
	}
	return s.archives.GeneratePresignedDownloadURL(ctx, bucket, key, s.archives.PresignExpire())
}
