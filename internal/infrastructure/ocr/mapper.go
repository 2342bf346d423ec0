package ocr

import (
	"strings"

	"github.com/emissionary/backend/internal/domain"
)

// toResult converts the OCR service response to the domain result.
// Confidence is normalized to 0-1; some service versions report 0-100.
func toResult(resp *ocrResponse) *domain.OCRResult {
	confidence := resp.Confidence
	if confidence > 1 {
		confidence /= 100
	}
	if confidence < 0 || confidence > 1 {
		confidence = 0
	}

	result := &domain.OCRResult{
		Text:       resp.Text,
		Confidence: confidence,
		Merchant:   strings.TrimSpace(resp.Merchant),
		Total:      resp.Total,
	}
	if strings.EqualFold(result.Merchant, "unknown merchant") {
		result.Merchant = ""
	}

	for _, it := range resp.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		item := domain.RawExtractedItem{
			Name:     name,
			Quantity: it.Quantity,
			Category: it.Category,
			Origin:   domain.OriginOCRService,
		}
		if it.TotalPrice != nil {
			item.TotalPrice = *it.TotalPrice
		}
		result.Items = append(result.Items, item)
	}

	return result
}
