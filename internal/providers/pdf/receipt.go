package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// ReceiptData is the pre-formatted view of a paid order. Amounts are already
// rendered with their currency.
type ReceiptData struct {
	OrgName     string
	OrderNumber string
	OrderID     string
	DatePaid    string
	BillToName  string
	BillToEmail string
	Provider    string
	Method      string

	Lines []ReceiptLine

	Total string
}

type ReceiptLine struct {
	Description string
	Amount      string
}

var ErrReceiptNotPaid = errors.New("receipt_order_not_paid")

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if receipt.DatePaid == "" {
		return nil, ErrReceiptNotPaid
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(25,
		text.NewCol(8, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.OrgName, props.Text{
			Size:  11,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Order number: "+receipt.OrderNumber, props.Text{Top: 0}),
			text.New("Order ID: "+receipt.OrderID, props.Text{Top: 4}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.BillToName, props.Text{Top: 5}),
			text.New(receipt.BillToEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Total+" paid on "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(9, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range receipt.Lines {
		m.AddRow(8,
			text.NewCol(9, line.Description, props.Text{Size: 9}),
			text.NewCol(3, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, receipt.Total, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	if receipt.Provider != "" {
		m.AddRow(10,
			text.NewCol(12, "Paid via "+receipt.Provider+" ("+receipt.Method+")", props.Text{Size: 8, Top: 3}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
