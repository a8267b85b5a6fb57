package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/app"
	"github.com/dropship-ops/opsconsole/internal/catalog"
)

var chart = []accounting.AccountInput{
	{Code: "1100", Name: "Caja", Category: "asset"},
	{Code: "1110", Name: "Bancos", Category: "asset", Position: 1},
	{Code: "1400", Name: "Inventario", Category: "asset", Position: 2},
	{Code: "2100", Name: "Proveedores", Category: "liability", Position: 3},
	{Code: "3100", Name: "Capital", Category: "equity", Position: 4},
	{Code: "4100", Name: "Ventas", Category: "income", Position: 5, IsNominal: true},
	{Code: "5100", Name: "Costo de ventas", Category: "expense", Position: 6, IsNominal: true},
	{Code: "5200", Name: "Comisiones", Category: "expense", Position: 7, IsNominal: true},
}

var catalogHeaders = []string{"SKU", "Nombre", "Categoria", "Costo", "Margen", "IVA"}

var catalogRows = [][]string{
	{"LMP-001", "Lámpara de escritorio", "Hogar", "12,50", "0.30", "12"},
	{"AUD-010", "Audífonos inalámbricos", "Electrónica", "18", "0.35", "12"},
	{"MCH-220", "Mochila urbana", "Accesorios", "9.75", "0.40", "12"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	services, err := app.NewServices(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer services.Close()

	fmt.Println("→ Seeding chart of accounts...")
	for _, in := range chart {
		acct, err := services.Ledger.CreateAccount(ctx, in)
		switch {
		case errors.Is(err, accounting.ErrDuplicateAccountCode):
			fmt.Printf("  %s exists\n", in.Code)
		case err != nil:
			log.Fatalf("create account %s: %v", in.Code, err)
		default:
			fmt.Printf("  %s %s (id %d)\n", acct.Code, acct.Name, acct.ID)
		}
	}

	fmt.Println("→ Seeding catalog...")
	rows, err := catalog.RowsFromTable(catalogHeaders, catalogRows)
	if err != nil {
		log.Fatalf("parse catalog: %v", err)
	}
	preview, err := services.Catalog.Preview(ctx, rows, catalog.Options{})
	if err != nil {
		log.Fatalf("preview catalog: %v", err)
	}
	report, err := services.Catalog.Sync(ctx, preview)
	if err != nil {
		log.Fatalf("sync catalog: %v", err)
	}
	fmt.Printf("  inserted %d, updated %d, unchanged %d\n", report.Inserted, report.Updated, len(preview.Unchanged))
	fmt.Println("✓ Seed complete")
}
