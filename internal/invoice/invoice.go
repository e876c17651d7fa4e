// Package invoice renders order invoices. Document bodies are structured
// text; turning them into PDF bytes is the document service's business.
package invoice

import (
	"context"
	"fmt"
	"strings"

	"github.com/maisonvintage/orderflow/internal/orders"
)

type CopyKind string

const (
	CopyClient CopyKind = "client"
	CopySeller CopyKind = "seller"
)

type Document struct {
	Reference string
	Kind      CopyKind
	Filename  string
	Body      []byte
}

// Generator is idempotent: regenerating for the same order yields an
// equivalent document.
type Generator interface {
	Generate(ctx context.Context, o *orders.Order, kind CopyKind) (Document, error)
}

type TextGenerator struct {
	ShopName string
}

func (g *TextGenerator) Generate(ctx context.Context, o *orders.Order, kind CopyKind) (Document, error) {
	var b strings.Builder
	shop := g.ShopName
	if shop == "" {
		shop = "Maison Vintage"
	}
	fmt.Fprintf(&b, "%s — Facture %s\n", shop, o.Reference)
	if kind == CopySeller {
		b.WriteString("COPIE VENDEUR\n")
	}
	fmt.Fprintf(&b, "Client: %s\n", o.ShippingSnapshot.FullName)
	fmt.Fprintf(&b, "Adresse: %s, %s %s, %s\n",
		o.ShippingSnapshot.Line1, o.ShippingSnapshot.PostalCode, o.ShippingSnapshot.City, o.ShippingSnapshot.Country)
	b.WriteString("\n")
	for _, l := range o.Lines {
		fmt.Fprintf(&b, "%-40s x%d  %8.2f\n", l.ProductName, l.Quantity, float64(l.UnitPrice*l.Quantity)/100)
	}
	fmt.Fprintf(&b, "\nTotal: %.2f EUR\n", float64(o.TotalCents)/100)

	name := fmt.Sprintf("Facture-%s.pdf", o.Reference)
	if kind == CopySeller {
		name = fmt.Sprintf("Facture-%s-copie.pdf", o.Reference)
	}
	return Document{Reference: o.Reference, Kind: kind, Filename: name, Body: []byte(b.String())}, nil
}
