package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/repository/files"
)

type fakeAnalyzer struct {
	labels    []models.Label
	labelsErr error

	textLines []string
	textErr   error

	docLines []string
	docPages int
	docErr   error

	pairs     map[string]string
	tables    []models.Table
	structErr error

	docCalls int
}

func (f *fakeAnalyzer) DetectLabels(_ context.Context, _ string, _ int) ([]models.Label, error) {
	return f.labels, f.labelsErr
}

func (f *fakeAnalyzer) DetectTextLines(_ context.Context, _ string) ([]string, error) {
	return f.textLines, f.textErr
}

func (f *fakeAnalyzer) DetectDocumentText(_ context.Context, _ string) ([]string, int, error) {
	f.docCalls++
	return f.docLines, f.docPages, f.docErr
}

func (f *fakeAnalyzer) DetectDocumentStructure(_ context.Context, _ string) (map[string]string, []models.Table, error) {
	return f.pairs, f.tables, f.structErr
}

func newService(az *fakeAnalyzer) (*Service, *files.MemoryRepository) {
	repo := files.NewMemoryRepository()
	return NewService(repo, az, 3, logging.NewJSON()), repo
}

func seedClean(t *testing.T, repo *files.MemoryRepository, id, name, mime string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.FileRecord{
		ID: id, OwnerID: "u1", Name: name, MimeType: mime, BlobKey: "k/" + id,
	}))
	require.NoError(t, repo.SetSecurityStatus(ctx, id, models.SecurityClean, ""))
}

func msgFor(id string) models.PipelineMessage {
	return models.PipelineMessage{FileID: id, BlobKey: "k/" + id, Operation: models.OpExtract}
}

func TestHandle_PlainTextInvoice(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{
		docLines: []string{"invoice total $42 due 2024-01-05"},
		docPages: 1,
	}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "notes.txt", "text/plain")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, err := repo.GetByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingCompleted, rec.ProcessingStatus)

	md := rec.Metadata
	assert.Equal(t, models.CategoryDocument, md.ContentCategory)
	assert.Contains(t, md.ExtractedText, "invoice total $42 due 2024-01-05")
	assert.Contains(t, md.Keywords, "invoice")
	assert.Contains(t, md.Keywords, "total")
	assert.NotContains(t, md.Keywords, "2024-01-05")

	var dates []string
	for _, e := range md.Entities {
		if e.Type == models.EntityDate {
			dates = append(dates, e.Text)
		}
	}
	assert.Equal(t, []string{"2024-01-05"}, dates)

	require.NotNil(t, md.Document)
	assert.Equal(t, 1, md.Document.PageCount)
	assert.Equal(t, "invoice", md.Document.DocumentType)
	assert.Equal(t, []string{"invoice"}, md.Categories)
}

func TestHandle_DocumentTextCappedAt1000Chars(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docLines: []string{strings.Repeat("verylongword ", 200)}, docPages: 3}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "big.pdf", "application/pdf")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Len(t, rec.Metadata.ExtractedText, 1000)
	// Entities and keywords still see the full text.
	assert.Contains(t, rec.Metadata.Keywords, "verylongword")
}

func TestHandle_TextCapCountsRunesNotBytes(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docLines: []string{strings.Repeat("a", 999) + "ééé"}}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "accents.txt", "text/plain")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	got := rec.Metadata.ExtractedText
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 1000, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "é"), "the cap must not split a rune")
}

func TestHandle_DocumentFormFieldsStored(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{
		docLines: []string{"Acme Corp", "Amount due: $42"},
		docPages: 1,
		pairs:    map[string]string{"Invoice Number": "INV-042", "Due Date": "2024-01-05"},
		tables: []models.Table{{
			ID:         "t1",
			PageNumber: 1,
			Headers:    []string{"Item", "Price"},
			Rows:       [][]string{{"Widget", "$42"}},
		}},
	}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "inv.pdf", "application/pdf")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	doc := rec.Metadata.Document
	require.NotNil(t, doc)
	assert.Equal(t, "INV-042", doc.KeyValuePairs["Invoice Number"])
	require.Len(t, doc.Tables, 1)
	assert.Equal(t, []string{"Item", "Price"}, doc.Tables[0].Headers)
	// The body never says "invoice"; the form field does.
	assert.Equal(t, "invoice", doc.DocumentType)
	assert.Equal(t, []string{"invoice"}, rec.Metadata.Categories)
}

func TestHandle_StructureFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{
		docLines:  []string{"your receipt, thanks"},
		docPages:  1,
		structErr: errors.New("throttled"),
	}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "r.pdf", "application/pdf")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, models.ProcessingCompleted, rec.ProcessingStatus)
	require.NotNil(t, rec.Metadata.Document)
	assert.Equal(t, "receipt", rec.Metadata.Document.DocumentType)
	assert.Empty(t, rec.Metadata.Document.KeyValuePairs)
}

func TestHandle_Image(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{
		labels: []models.Label{
			{Name: "Dog", Confidence: 97.5},
			{Name: "Pet", Confidence: 91.0},
			{Name: "Grass", Confidence: 71.2},
		},
		textLines: []string{"BEWARE OF DOG", "dog"},
	}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "dog.png", "image/png")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	md := rec.Metadata
	assert.Equal(t, models.CategoryImage, md.ContentCategory)
	assert.Equal(t, []string{"Dog", "Pet"}, md.Categories)
	// Labels, then text lines, deduplicated case-insensitively.
	assert.Equal(t, []string{"Dog", "Pet", "Grass", "BEWARE OF DOG"}, md.Keywords)
	require.NotNil(t, md.Image)
	assert.True(t, md.Image.ContainsText)
	assert.Len(t, md.Image.Labels, 3)
	assert.Equal(t, "BEWARE OF DOG\ndog", md.ExtractedText)
}

func TestHandle_ImagePartialResultStillCompletes(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{
		labels:  []models.Label{{Name: "Cat", Confidence: 95}},
		textErr: errors.New("throttled"),
	}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "cat.jpg", "image/jpeg")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, models.ProcessingCompleted, rec.ProcessingStatus)
	assert.Equal(t, []string{"Cat"}, rec.Metadata.Keywords)
	assert.False(t, rec.Metadata.Image.ContainsText)
}

func TestHandle_SpreadsheetAndPresentationFixedKeywords(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(&fakeAnalyzer{})

	seedClean(t, repo, "s1", "data.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	seedClean(t, repo, "p1", "deck.pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
	seedClean(t, repo, "o1", "blob.bin", "application/octet-stream")

	for _, id := range []string{"s1", "p1", "o1"} {
		require.NoError(t, svc.Handle(ctx, msgFor(id), 1))
	}

	s, _ := repo.GetByID(ctx, "s1")
	assert.Equal(t, models.CategorySpreadsheet, s.Metadata.ContentCategory)
	assert.Equal(t, []string{"spreadsheet", "data", "table"}, s.Metadata.Keywords)

	p, _ := repo.GetByID(ctx, "p1")
	assert.Equal(t, models.CategoryPresentation, p.Metadata.ContentCategory)
	assert.Equal(t, []string{"presentation", "slides"}, p.Metadata.Keywords)

	o, _ := repo.GetByID(ctx, "o1")
	assert.Equal(t, models.CategoryOther, o.Metadata.ContentCategory)
	assert.Empty(t, o.Metadata.Keywords)
}

func TestHandle_GatedBehindCleanVerdict(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(&fakeAnalyzer{docLines: []string{"text"}})

	require.NoError(t, repo.Create(ctx, &models.FileRecord{ID: "pending", MimeType: "text/plain", BlobKey: "k/pending"}))
	err := svc.Handle(ctx, msgFor("pending"), 1)
	assert.True(t, common.IsTransient(err))

	require.NoError(t, repo.Create(ctx, &models.FileRecord{ID: "bad", MimeType: "text/plain", BlobKey: "k/bad"}))
	require.NoError(t, repo.SetSecurityStatus(ctx, "bad", models.SecurityInfected, "X"))
	require.NoError(t, svc.Handle(ctx, msgFor("bad"), 1))

	rec, _ := repo.GetByID(ctx, "bad")
	assert.Empty(t, rec.Metadata.ExtractedText)
	assert.Equal(t, models.ProcessingPending, rec.ProcessingStatus)
}

func TestHandle_RedeliveryAfterCompletionIsNoOp(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docLines: []string{"hello hello world"}}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "a.txt", "text/plain")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 1))
	first, _ := repo.GetByID(ctx, "f1")

	require.NoError(t, svc.Handle(ctx, msgFor("f1"), 2))
	second, _ := repo.GetByID(ctx, "f1")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, az.docCalls)
}

func TestHandle_UnreadableBlobFailsPermanently(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docErr: fmt.Errorf("parse: %w", common.ErrBlobUnreadable)}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "broken.pdf", "application/pdf")

	err := svc.Handle(ctx, msgFor("f1"), 1)
	assert.True(t, common.IsPermanent(err))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, models.ProcessingFailed, rec.ProcessingStatus)
}

func TestHandle_TransientFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docErr: errors.New("throttled")}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "a.pdf", "application/pdf")

	err := svc.Handle(ctx, msgFor("f1"), 1)
	assert.True(t, common.IsTransient(err))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, models.ProcessingPending, rec.ProcessingStatus)
}

func TestHandle_ExhaustedBudgetFailsAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	az := &fakeAnalyzer{docErr: errors.New("still down")}
	svc, repo := newService(az)
	seedClean(t, repo, "f1", "a.pdf", "application/pdf")

	err := svc.Handle(ctx, msgFor("f1"), 3)
	assert.True(t, common.IsPermanent(err))

	rec, _ := repo.GetByID(ctx, "f1")
	assert.Equal(t, models.ProcessingFailed, rec.ProcessingStatus)
}

func TestKeywordsFromText_FrequencyRankedAndStopped(t *testing.T) {
	text := "alpha beta alpha gamma beta alpha the with from tiny cat"
	got := keywordsFromText(text)
	assert.Equal(t, []string{"alpha", "beta", "gamma", "tiny"}, got)
}

func TestEntitiesFromText_CappedAndUnique(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, "user%d@example.com ", i)
	}
	sb.WriteString("user0@example.com")
	got := entitiesFromText(sb.String())
	assert.Len(t, got, maxEntities)
	seen := map[string]bool{}
	for _, e := range got {
		assert.False(t, seen[e.Text])
		seen[e.Text] = true
	}
}

func TestInferDocumentType(t *testing.T) {
	assert.Equal(t, "invoice", inferDocumentType("INVOICE #42"))
	assert.Equal(t, "receipt", inferDocumentType("your receipt"))
	assert.Equal(t, "contract", inferDocumentType("Service Agreement"))
	assert.Equal(t, "resume", inferDocumentType("Curriculum Vitae"))
	assert.Equal(t, "document", inferDocumentType("meeting notes"))
}
