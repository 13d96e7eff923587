// Seed tool for loading synthetic SME data into Kestrel.
//
// Usage:
//
//	go run cmd/seed/main.go -db ./kestrel.db -tenant demo -businesses 20 -fraud
//
// This tool:
//  1. Creates businesses with owners, suppliers, and payment history
//  2. Optionally plants fraud scenarios (payment rings, structuring runs,
//     duplicate invoices, a shell company)
//  3. Writes everything through the repository so the API serves it directly
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func main() {
	dbPath := flag.String("db", "./kestrel.db", "Path to SQLite database")
	tenantID := flag.String("tenant", "demo", "Tenant ID to seed")
	businesses := flag.Int("businesses", 20, "Number of healthy businesses to create")
	months := flag.Int("months", 6, "Months of payment history per business")
	fraud := flag.Bool("fraud", false, "Plant fraud scenarios")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		fmt.Printf("ERROR: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	fmt.Println("Kestrel seed")
	fmt.Printf("  Database:   %s\n", *dbPath)
	fmt.Printf("  Tenant:     %s\n", *tenantID)
	fmt.Printf("  Businesses: %d\n", *businesses)
	fmt.Printf("  History:    %d months\n", *months)
	fmt.Printf("  Fraud:      %v\n", *fraud)
	fmt.Println()

	ctx := context.Background()
	s := &seeder{
		repo:     repo,
		tenantID: *tenantID,
		rng:      rand.New(rand.NewSource(*seed)),
		now:      time.Now().UTC(),
	}

	start := time.Now()
	for i := 0; i < *businesses; i++ {
		if err := s.healthyBusiness(ctx, i, *months); err != nil {
			fmt.Printf("ERROR: failed to seed business %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	fmt.Printf("  Seeded %d businesses\n", *businesses)

	if *fraud {
		scenarios := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"payment ring (ring-a -> ring-b -> ring-c -> ring-a)", s.paymentRing},
			{"structuring run (structurer-1)", s.structuringRun},
			{"duplicate invoices (duplicator-1)", s.duplicateInvoices},
			{"shell company (shell-1)", s.shellCompany},
		}
		for _, sc := range scenarios {
			if err := sc.fn(ctx); err != nil {
				fmt.Printf("ERROR: failed to seed %s: %v\n", sc.name, err)
				os.Exit(1)
			}
			fmt.Printf("  Planted: %s\n", sc.name)
		}
	}

	fmt.Printf("\nDone in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println("\nTry:")
	fmt.Printf("  curl -H 'X-Tenant-ID: %s' http://localhost:8080/businesses/biz-0/risk\n", *tenantID)
	if *fraud {
		fmt.Printf("  curl -X POST -H 'X-Tenant-ID: %s' http://localhost:8080/businesses/ring-a/scan\n", *tenantID)
	}
}

type seeder struct {
	repo     domain.Repository
	tenantID string
	rng      *rand.Rand
	now      time.Time
}

func (s *seeder) business(ctx context.Context, id, name string) error {
	return s.repo.SaveEntity(ctx, s.tenantID, &domain.Entity{
		ID:    id,
		Label: domain.LabelBusiness,
		Name:  name,
	})
}

func (s *seeder) edge(ctx context.Context, from, to string, rel domain.RelType, props map[string]any) error {
	return s.repo.SaveRelationship(ctx, s.tenantID, &domain.Relationship{
		FromID:     from,
		ToID:       to,
		Type:       rel,
		Properties: props,
	})
}

func (s *seeder) payment(ctx context.Context, id, payer, payee string, amount float64, at time.Time) error {
	return s.repo.SaveTransaction(ctx, s.tenantID, &domain.Transaction{
		ID:        id,
		Type:      "payment",
		PayerID:   payer,
		PayeeID:   payee,
		Amount:    amount,
		Currency:  "EUR",
		Timestamp: at,
	})
}

// healthyBusiness creates a business with an owner, a spread of suppliers,
// and months of on-time settlements plus steady inflow.
func (s *seeder) healthyBusiness(ctx context.Context, n, months int) error {
	bizID := fmt.Sprintf("biz-%d", n)
	if err := s.business(ctx, bizID, fmt.Sprintf("Business %d GmbH", n)); err != nil {
		return err
	}

	ownerID := fmt.Sprintf("person-%d", n)
	if err := s.repo.SaveEntity(ctx, s.tenantID, &domain.Entity{
		ID:    ownerID,
		Label: domain.LabelPerson,
		Name:  fmt.Sprintf("Owner %d", n),
	}); err != nil {
		return err
	}
	if err := s.edge(ctx, ownerID, bizID, domain.RelOwns, map[string]any{"percentage": 100.0}); err != nil {
		return err
	}

	// Three to five suppliers keep the HHI low.
	suppliers := 3 + s.rng.Intn(3)
	for i := 0; i < suppliers; i++ {
		supID := fmt.Sprintf("sup-%d-%d", n, i)
		if err := s.business(ctx, supID, fmt.Sprintf("Supplier %d-%d AG", n, i)); err != nil {
			return err
		}
		if err := s.edge(ctx, bizID, supID, domain.RelBuysFrom, nil); err != nil {
			return err
		}
	}

	txSeq := 0
	for m := 0; m < months; m++ {
		monthStart := s.now.AddDate(0, -m, 0)

		// Customer inflow exceeds supplier outflow so the runway stays healthy.
		inflow := 40000 + s.rng.Float64()*20000
		if err := s.payment(ctx, fmt.Sprintf("tx-%s-in-%d", bizID, m),
			fmt.Sprintf("cust-%d", n), bizID, inflow, monthStart.AddDate(0, 0, -2)); err != nil {
			return err
		}

		for i := 0; i < suppliers; i++ {
			supID := fmt.Sprintf("sup-%d-%d", n, i)
			amount := 4000 + s.rng.Float64()*6000
			at := monthStart.AddDate(0, 0, -(5 + s.rng.Intn(15)))
			txSeq++
			if err := s.payment(ctx, fmt.Sprintf("tx-%s-%d", bizID, txSeq), bizID, supID, amount, at); err != nil {
				return err
			}

			// Matching payable, settled a few days before due.
			issued := at.AddDate(0, 0, -20)
			due := issued.AddDate(0, 0, 30)
			settled := due.AddDate(0, 0, -(1 + s.rng.Intn(5)))
			if err := s.repo.SaveInvoice(ctx, s.tenantID, &domain.Invoice{
				ID:             fmt.Sprintf("inv-%s-%d", bizID, txSeq),
				IssuerID:       supID,
				CounterpartyID: bizID,
				Number:         fmt.Sprintf("INV-%d-%04d", n, txSeq),
				Amount:         amount,
				Currency:       "EUR",
				IssuedAt:       issued,
				DueAt:          due,
				SettledAt:      &settled,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// paymentRing plants a three-party cycle with PAYS edges the circular
// detector can walk.
func (s *seeder) paymentRing(ctx context.Context) error {
	ring := []string{"ring-a", "ring-b", "ring-c"}
	for _, id := range ring {
		if err := s.business(ctx, id, "Ring "+id); err != nil {
			return err
		}
	}

	amount := 25000.0
	for i, from := range ring {
		to := ring[(i+1)%len(ring)]
		at := s.now.AddDate(0, 0, -(10 - i))
		if err := s.edge(ctx, from, to, domain.RelPays, map[string]any{"amount": amount}); err != nil {
			return err
		}
		if err := s.payment(ctx, fmt.Sprintf("tx-ring-%d", i), from, to, amount, at); err != nil {
			return err
		}
	}
	return nil
}

// structuringRun plants repeated just-below-threshold payments to one payee
// inside a tight window.
func (s *seeder) structuringRun(ctx context.Context) error {
	if err := s.business(ctx, "structurer-1", "Structurer Ltd"); err != nil {
		return err
	}
	if err := s.business(ctx, "struct-payee", "Struct Payee BV"); err != nil {
		return err
	}

	base := s.now.AddDate(0, 0, -5)
	for i := 0; i < 5; i++ {
		amount := 9200 + float64(i)*120
		at := base.Add(time.Duration(i*10) * time.Hour)
		if err := s.payment(ctx, fmt.Sprintf("tx-struct-%d", i), "structurer-1", "struct-payee", amount, at); err != nil {
			return err
		}
	}
	return nil
}

// duplicateInvoices plants near-identical invoices from one supplier.
func (s *seeder) duplicateInvoices(ctx context.Context) error {
	if err := s.business(ctx, "duplicator-1", "Duplicator SARL"); err != nil {
		return err
	}
	if err := s.business(ctx, "dup-victim", "Dup Victim SA"); err != nil {
		return err
	}

	for i := 0; i < 3; i++ {
		issued := s.now.AddDate(0, 0, -(12 - i))
		if err := s.repo.SaveInvoice(ctx, s.tenantID, &domain.Invoice{
			ID:             fmt.Sprintf("inv-dup-%d", i),
			IssuerID:       "duplicator-1",
			CounterpartyID: "dup-victim",
			Number:         fmt.Sprintf("DUP-%04d", i),
			Amount:         7800,
			Currency:       "EUR",
			IssuedAt:       issued,
			DueAt:          issued.AddDate(0, 0, 30),
		}); err != nil {
			return err
		}
	}
	return nil
}

// shellCompany plants a business with almost no structure moving large sums.
func (s *seeder) shellCompany(ctx context.Context) error {
	if err := s.business(ctx, "shell-1", "Shell One Holdings"); err != nil {
		return err
	}

	// High volume, no owners, directors, or suppliers on record.
	for i := 0; i < 6; i++ {
		amount := 30000 + s.rng.Float64()*20000
		at := s.now.AddDate(0, 0, -(3 * (i + 1)))
		if err := s.payment(ctx, fmt.Sprintf("tx-shell-%d", i), "shell-1", fmt.Sprintf("offshore-%d", i), amount, at); err != nil {
			return err
		}
	}
	return nil
}
