package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	qrcode "github.com/skip2/go-qrcode"

	"actionkeeper/agreement"
)

// ErrNotReady is returned when an artifact is requested before acceptance.
var ErrNotReady = errors.New("receipt: artifact not available until accepted")

// Artifact records a rendered receipt document.
type Artifact struct {
	ID              string
	AgreementID     string
	FilePath        string
	VerificationURL string
	HashSnapshot    string
	CreatedAt       time.Time
}

// ArtifactStore persists rendered artifact metadata.
type ArtifactStore interface {
	Create(ctx context.Context, agreementID, filePath, verificationURL, hashSnapshot string) (Artifact, error)
	GetByAgreement(ctx context.Context, agreementID string) (Artifact, error)
}

// Issuer renders the receipt PDF for accepted agreements. The document embeds
// the locked terms, the fingerprint, and a scannable verification link.
type Issuer struct {
	agreements AgreementReader
	artifacts  ArtifactStore
	baseURL    string
	dir        string
}

func NewIssuer(agreements AgreementReader, artifacts ArtifactStore, baseURL, artifactsDir string) *Issuer {
	return &Issuer{
		agreements: agreements,
		artifacts:  artifacts,
		baseURL:    baseURL,
		dir:        artifactsDir,
	}
}

// Artifact renders the receipt for an accepted agreement, persists a copy
// under the artifacts directory, and records its metadata.
func (i *Issuer) Artifact(ctx context.Context, agreementID string) ([]byte, Artifact, error) {
	a, err := i.agreements.Get(ctx, agreementID)
	if err != nil {
		return nil, Artifact{}, err
	}
	if a.NegotiationState != agreement.StateAccepted || a.Hash == nil {
		return nil, Artifact{}, ErrNotReady
	}

	verifyURL := VerificationURL(i.baseURL, a.ID, *a.Hash)
	doc, err := renderPDF(a, *a.Hash, verifyURL)
	if err != nil {
		return nil, Artifact{}, err
	}

	filePath := ""
	if i.dir != "" {
		if err := os.MkdirAll(i.dir, 0o755); err != nil {
			return nil, Artifact{}, fmt.Errorf("receipt: artifacts dir: %w", err)
		}
		filePath = filepath.Join(i.dir, a.ID+".pdf")
		if err := os.WriteFile(filePath, doc, 0o644); err != nil {
			return nil, Artifact{}, fmt.Errorf("receipt: write artifact: %w", err)
		}
	}

	meta := Artifact{AgreementID: a.ID, FilePath: filePath, VerificationURL: verifyURL, HashSnapshot: *a.Hash}
	if i.artifacts != nil {
		meta, err = i.artifacts.Create(ctx, a.ID, filePath, verifyURL, *a.Hash)
		if err != nil {
			return nil, Artifact{}, err
		}
	}
	return doc, meta, nil
}

func termLine(label, value string) [2]string {
	return [2]string{label, value}
}

func renderPDF(a agreement.Agreement, hash, verifyURL string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("ActionKeeper Agreement Receipt", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "ActionKeeper Agreement Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Agreement "+a.ID, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("%s / %s", a.PartyALabel, a.PartyBLabel), "", 1, "L", false, 0, "")
	if a.AcceptedAt != nil {
		pdf.CellFormat(0, 7, "Accepted "+a.AcceptedAt.UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Locked terms", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	lines := [][2]string{
		termLine("Stake", a.Terms.StakePct.String()+"%"),
		termLine("Buy-in", a.Terms.BuyInAmount.StringFixed(2)),
		termLine("Markup", a.Terms.Markup.String()),
		termLine("Payout basis", string(a.Terms.PayoutBasis)),
		termLine("Bullet cap", fmt.Sprintf("%d", a.Terms.BulletCap)),
	}
	if a.Terms.BulletCap == 1 {
		lines[4][1] += " (freeze-out)"
	}
	if a.Terms.EventDate != nil {
		lines = append(lines, termLine("Event date", a.Terms.EventDate.UTC().Format("2006-01-02")))
	}
	if a.Terms.DueDate != nil {
		lines = append(lines, termLine("Due date", a.Terms.DueDate.UTC().Format("2006-01-02")))
	}
	for _, line := range lines {
		pdf.CellFormat(40, 7, line[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, line[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Verification", "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(180, 5, "SHA-256 "+hash, "", "L", false)
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(180, 5, verifyURL, "", "L", false)

	qrPNG, err := qrcode.Encode(verifyURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("receipt: encode qr: %w", err)
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("verify-qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("verify-qr", 10, pdf.GetY()+4, 40, 40, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("receipt: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
