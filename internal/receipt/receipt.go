package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"pharmacy-order-services/internal/currency"
	"pharmacy-order-services/internal/fulfillment"

	"github.com/phpdave11/gofpdf"
)

type line struct {
	Description string
	Quantity    int64
	UnitPrice   string
	Total       string
}

type templateData struct {
	ProviderName string
	OrderID      string
	IssuedCode   string
	Method       string
	PlacedAt     string
	CompletedAt  string
	Lines        []line
	Subtotal     string
	DeliveryFee  string
	Total        string
	Payments     []string
}

// Render builds the PDF receipt for a completed order.
func Render(detail fulfillment.OrderDetail) ([]byte, error) {
	if detail.Order.Status != fulfillment.OrderCompleted {
		return nil, fmt.Errorf("order %s is not completed", detail.Order.ID)
	}
	return renderPDF(buildTemplateData(detail))
}

func buildTemplateData(detail fulfillment.OrderDetail) templateData {
	order := detail.Order
	cur := order.Currency
	data := templateData{
		ProviderName: detail.Provider.Name,
		OrderID:      order.ID,
		Method:       string(order.DeliveryMethod),
		PlacedAt:     formatTime(order.PlacedAt),
		CompletedAt:  formatTime(order.CompletedAt),
		Subtotal:     currency.Format(order.Subtotal, cur),
		DeliveryFee:  currency.Format(order.DeliveryFee, cur),
		Total:        currency.Format(order.Total, cur),
	}
	if data.ProviderName == "" {
		data.ProviderName = "Pharmacy"
	}
	if detail.Queue != nil {
		data.IssuedCode = detail.Queue.IssuedCode
	}
	for _, l := range detail.Lines {
		data.Lines = append(data.Lines, line{
			Description: l.MedicationID,
			Quantity:    l.Quantity,
			UnitPrice:   currency.Format(l.UnitPrice, cur),
			Total:       currency.Format(l.LineTotal, cur),
		})
	}
	for _, p := range detail.Payments {
		entry := fmt.Sprintf("%s %s", p.Method, currency.Format(p.Amount, p.Currency))
		if strings.TrimSpace(p.Reference) != "" {
			entry += " (ref " + p.Reference + ")"
		}
		data.Payments = append(data.Payments, entry)
	}
	return data
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func renderPDF(data templateData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, data.ProviderName, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Order %s", data.OrderID), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	if data.IssuedCode != "" {
		pdf.CellFormat(0, 5, fmt.Sprintf("Queue code: %s", data.IssuedCode), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 5, data.Method, "", 1, "C", false, 0, "")
	if data.PlacedAt != "" {
		pdf.CellFormat(0, 5, fmt.Sprintf("Placed: %s", data.PlacedAt), "", 1, "C", false, 0, "")
	}
	if data.CompletedAt != "" {
		pdf.CellFormat(0, 5, fmt.Sprintf("Completed: %s", data.CompletedAt), "", 1, "C", false, 0, "")
	}

	pdf.Ln(3)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, "Items", "B", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	for _, item := range data.Lines {
		pdf.CellFormat(0, 5, fmt.Sprintf("%dx %s @ %s", item.Quantity, item.Description, item.UnitPrice), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Line total: %s", item.Total), "", 1, "L", false, 0, "")
		pdf.Ln(1)
	}

	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, "Totals", "B", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Subtotal: %s", data.Subtotal), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Delivery: %s", data.DeliveryFee), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Total: %s", data.Total), "", 1, "L", false, 0, "")

	if len(data.Payments) > 0 {
		pdf.Ln(2)
		pdf.SetFont("Arial", "", 9)
		for _, p := range data.Payments {
			pdf.CellFormat(0, 5, fmt.Sprintf("Payment: %s", p), "", 1, "L", false, 0, "")
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
