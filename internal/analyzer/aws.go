package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rekognitiontypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	textracttypes "github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/dspopov/fileflow/internal/models"
)

// minLabelConfidence filters out low-confidence labels at the service side.
const minLabelConfidence = 70

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// AWSAnalyzer implements Analyzer over Rekognition (images) and Textract
// (documents), referencing blobs in place via S3 object pointers.
type AWSAnalyzer struct {
	rekognition RekognitionAPI
	textract    TextractAPI
	bucket      string
}

func NewAWSAnalyzer(rek RekognitionAPI, tex TextractAPI, bucket string) *AWSAnalyzer {
	return &AWSAnalyzer{rekognition: rek, textract: tex, bucket: bucket}
}

func (a *AWSAnalyzer) DetectLabels(ctx context.Context, blobKey string, maxLabels int) ([]models.Label, error) {
	out, err := a.rekognition.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image: &rekognitiontypes.Image{
			S3Object: &rekognitiontypes.S3Object{
				Bucket: aws.String(a.bucket),
				Name:   aws.String(blobKey),
			},
		},
		MaxLabels:     aws.Int32(int32(maxLabels)),
		MinConfidence: aws.Float32(minLabelConfidence),
	})
	if err != nil {
		return nil, fmt.Errorf("detect labels %s: %w", blobKey, err)
	}

	labels := make([]models.Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		labels = append(labels, models.Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}
	return labels, nil
}

func (a *AWSAnalyzer) DetectTextLines(ctx context.Context, blobKey string) ([]string, error) {
	out, err := a.rekognition.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &rekognitiontypes.Image{
			S3Object: &rekognitiontypes.S3Object{
				Bucket: aws.String(a.bucket),
				Name:   aws.String(blobKey),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("detect text %s: %w", blobKey, err)
	}

	var lines []string
	for _, d := range out.TextDetections {
		if d.Type != rekognitiontypes.TextTypesLine {
			continue
		}
		if text := aws.ToString(d.DetectedText); text != "" {
			lines = append(lines, text)
		}
	}
	return lines, nil
}

func (a *AWSAnalyzer) DetectDocumentText(ctx context.Context, blobKey string) ([]string, int, error) {
	out, err := a.textract.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &textracttypes.Document{
			S3Object: &textracttypes.S3Object{
				Bucket: aws.String(a.bucket),
				Name:   aws.String(blobKey),
			},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("detect document text %s: %w", blobKey, err)
	}

	var lines []string
	pages := map[int32]struct{}{}
	for _, b := range out.Blocks {
		if b.Page != nil {
			pages[aws.ToInt32(b.Page)] = struct{}{}
		}
		if b.BlockType != textracttypes.BlockTypeLine {
			continue
		}
		if text := aws.ToString(b.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return lines, len(pages), nil
}

func (a *AWSAnalyzer) DetectDocumentStructure(ctx context.Context, blobKey string) (map[string]string, []models.Table, error) {
	out, err := a.textract.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document: &textracttypes.Document{
			S3Object: &textracttypes.S3Object{
				Bucket: aws.String(a.bucket),
				Name:   aws.String(blobKey),
			},
		},
		FeatureTypes: []textracttypes.FeatureType{
			textracttypes.FeatureTypeForms,
			textracttypes.FeatureTypeTables,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("analyze document %s: %w", blobKey, err)
	}

	byID := make(map[string]textracttypes.Block, len(out.Blocks))
	for _, b := range out.Blocks {
		byID[aws.ToString(b.Id)] = b
	}

	pairs := map[string]string{}
	var tables []models.Table
	for _, b := range out.Blocks {
		switch b.BlockType {
		case textracttypes.BlockTypeKeyValueSet:
			if !isKeyBlock(b) {
				continue
			}
			if key := childWords(b, byID); key != "" {
				pairs[key] = childWords(valueBlock(b, byID), byID)
			}
		case textracttypes.BlockTypeTable:
			tables = append(tables, tableFromBlock(b, byID))
		}
	}
	return pairs, tables, nil
}

func isKeyBlock(b textracttypes.Block) bool {
	for _, et := range b.EntityTypes {
		if et == textracttypes.EntityTypeKey {
			return true
		}
	}
	return false
}

// valueBlock resolves the VALUE block a KEY block points at.
func valueBlock(b textracttypes.Block, byID map[string]textracttypes.Block) textracttypes.Block {
	for _, rel := range b.Relationships {
		if rel.Type != textracttypes.RelationshipTypeValue {
			continue
		}
		for _, id := range rel.Ids {
			return byID[id]
		}
	}
	return textracttypes.Block{}
}

// childWords joins the WORD children of a block into its text.
func childWords(b textracttypes.Block, byID map[string]textracttypes.Block) string {
	var words []string
	for _, rel := range b.Relationships {
		if rel.Type != textracttypes.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			if child := byID[id]; child.BlockType == textracttypes.BlockTypeWord {
				words = append(words, aws.ToString(child.Text))
			}
		}
	}
	return strings.Join(words, " ")
}

func tableFromBlock(b textracttypes.Block, byID map[string]textracttypes.Block) models.Table {
	cells := map[int32]map[int32]string{}
	var maxRow, maxCol int32
	for _, rel := range b.Relationships {
		if rel.Type != textracttypes.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			cell := byID[id]
			if cell.BlockType != textracttypes.BlockTypeCell {
				continue
			}
			row := aws.ToInt32(cell.RowIndex)
			col := aws.ToInt32(cell.ColumnIndex)
			if cells[row] == nil {
				cells[row] = map[int32]string{}
			}
			cells[row][col] = childWords(cell, byID)
			if row > maxRow {
				maxRow = row
			}
			if col > maxCol {
				maxCol = col
			}
		}
	}

	table := models.Table{
		ID:         aws.ToString(b.Id),
		PageNumber: int(aws.ToInt32(b.Page)),
	}
	for row := int32(1); row <= maxRow; row++ {
		line := make([]string, maxCol)
		for col := int32(1); col <= maxCol; col++ {
			line[col-1] = cells[row][col]
		}
		// The first row carries the column headers.
		if row == 1 {
			table.Headers = line
		} else {
			table.Rows = append(table.Rows, line)
		}
	}
	return table
}
