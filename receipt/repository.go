package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrArtifactNotFound is returned when no rendered artifact exists yet.
var ErrArtifactNotFound = errors.New("receipt: artifact not found")

// ArtifactRepository persists artifact metadata in agreement_artifacts.
type ArtifactRepository struct {
	pool *pgxpool.Pool
}

func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepository {
	return &ArtifactRepository{pool: pool}
}

func (r *ArtifactRepository) Create(ctx context.Context, agreementID, filePath, verificationURL, hashSnapshot string) (Artifact, error) {
	const insertSQL = `
INSERT INTO agreement_artifacts (agreement_id, file_path, verification_url, hash_snapshot)
VALUES ($1, $2, $3, $4)
RETURNING id, agreement_id, file_path, verification_url, hash_snapshot, created_at
`
	var a Artifact
	err := r.pool.QueryRow(ctx, insertSQL, agreementID, filePath, verificationURL, hashSnapshot).
		Scan(&a.ID, &a.AgreementID, &a.FilePath, &a.VerificationURL, &a.HashSnapshot, &a.CreatedAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("receipt: insert artifact: %w", err)
	}
	return a, nil
}

func (r *ArtifactRepository) GetByAgreement(ctx context.Context, agreementID string) (Artifact, error) {
	const query = `
SELECT id, agreement_id, file_path, verification_url, hash_snapshot, created_at
FROM agreement_artifacts
WHERE agreement_id = $1
ORDER BY created_at DESC
LIMIT 1
`
	var a Artifact
	err := r.pool.QueryRow(ctx, query, agreementID).
		Scan(&a.ID, &a.AgreementID, &a.FilePath, &a.VerificationURL, &a.HashSnapshot, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Artifact{}, ErrArtifactNotFound
		}
		return Artifact{}, fmt.Errorf("receipt: get artifact: %w", err)
	}
	return a, nil
}
