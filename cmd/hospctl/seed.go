package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/app"
	"github.com/hackgods/hospital-operations/internal/identity"
	"github.com/hackgods/hospital-operations/internal/inventory"
)

var departments = []string{
	"General Practice", "Cardiology", "Dermatology", "Orthopedics", "Pediatrics",
	"Neurology", "Endocrinology", "Ophthalmology", "ENT", "Psychiatry",
}

var diagnoses = [][2]string{
	{"J06.9", "Acute upper respiratory infection"},
	{"I10", "Essential hypertension"},
	{"E11.9", "Type 2 diabetes mellitus"},
	{"M54.5", "Low back pain"},
	{"J45.909", "Asthma, uncomplicated"},
	{"K21.9", "Gastro-oesophageal reflux disease"},
	{"L20.9", "Atopic dermatitis"},
	{"F41.1", "Generalized anxiety disorder"},
	{"H10.9", "Conjunctivitis"},
	{"R51", "Headache"},
}

var services = []struct {
	name string
	fee  string
}{
	{"General consultation", "50000.00"},
	{"Specialist consultation", "120000.00"},
	{"Complete blood count", "35000.00"},
	{"Chest X-ray", "90000.00"},
	{"ECG", "60000.00"},
	{"Wound dressing", "25000.00"},
	{"Blood glucose test", "15000.00"},
}

var items = []struct {
	name  string
	unit  string
	price string
}{
	{"Paracetamol 500mg", "tablet", "500.00"},
	{"Amoxicillin 500mg", "capsule", "1500.00"},
	{"Ibuprofen 400mg", "tablet", "800.00"},
	{"Metformin 500mg", "tablet", "700.00"},
	{"Amlodipine 5mg", "tablet", "1200.00"},
	{"Omeprazole 20mg", "capsule", "1000.00"},
	{"Salbutamol inhaler", "inhaler", "45000.00"},
	{"Cetirizine 10mg", "tablet", "600.00"},
}

type seedOptions struct {
	doctors  int
	patients int
	password string
}

func seedCmd() *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data, staff accounts, patients and stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			return seed(cmd.Context(), e, opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 20, "doctor accounts to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 2000, "patients to create")
	cmd.Flags().StringVar(&opts.password, "password", "Welcome123", "initial password for seeded accounts")
	return cmd
}

func seed(ctx context.Context, e *env, opts seedOptions) error {
	faker := gofakeit.New(0)
	a := app.New(e.pool, nil, e.cfg, e.logger)

	if err := seedReference(ctx, e.pool); err != nil {
		return fmt.Errorf("reference data: %w", err)
	}
	e.logger.Info("reference data seeded")

	staff := map[access.Role]int64{}
	for _, role := range []access.Role{access.RoleAdmin, access.RoleReceptionist, access.RolePharmacist, access.RoleFinance} {
		id, err := ensureUser(ctx, a, e, strings.ToLower(string(role)), opts.password, role)
		if err != nil {
			return fmt.Errorf("staff %s: %w", role, err)
		}
		staff[role] = id
	}

	if err := seedDoctors(ctx, a, e, faker, opts); err != nil {
		return fmt.Errorf("doctors: %w", err)
	}
	if err := seedPatients(ctx, e, faker, staff[access.RoleReceptionist], opts.patients); err != nil {
		return fmt.Errorf("patients: %w", err)
	}
	if err := seedStock(ctx, a, e, faker, staff[access.RolePharmacist]); err != nil {
		return fmt.Errorf("stock: %w", err)
	}

	e.logger.Info("seed complete")
	return nil
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// seedReference is idempotent; existing rows are kept.
func seedReference(ctx context.Context, conn batchSender) error {
	b := &pgx.Batch{}
	for _, d := range departments {
		b.Queue(`INSERT INTO departments (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, d)
	}
	b.Queue(`
		INSERT INTO time_slots (start_time, end_time)
		SELECT t, t + interval '30 minutes'
		FROM generate_series(time '08:00', time '15:30', interval '30 minutes') AS t
		WHERE NOT EXISTS (SELECT 1 FROM time_slots)`)
	for _, d := range diagnoses {
		b.Queue(`INSERT INTO diagnoses (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`, d[0], d[1])
	}
	for _, s := range services {
		b.Queue(`INSERT INTO medical_services (name, fee) VALUES ($1, $2::numeric) ON CONFLICT (name) DO NOTHING`, s.name, s.fee)
	}
	for _, it := range items {
		b.Queue(`INSERT INTO pharmacy_items (name, unit, unit_price) VALUES ($1, $2, $3::numeric) ON CONFLICT (name) DO NOTHING`,
			it.name, it.unit, it.price)
	}
	return conn.SendBatch(ctx, b).Close()
}

// ensureUser creates username or returns the id of the existing account.
func ensureUser(ctx context.Context, a *app.App, e *env, username, password string, role access.Role) (int64, error) {
	u, err := a.Identity.Bootstrap(ctx, username, password, role)
	if err == nil {
		e.logger.Info("user created", zap.String("username", username), zap.String("role", string(role)))
		return u.ID, nil
	}
	if !errors.Is(err, identity.ErrDuplicateUsername) {
		return 0, err
	}
	var id int64
	err = e.pool.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	return id, err
}

func seedDoctors(ctx context.Context, a *app.App, e *env, faker *gofakeit.Faker, opts seedOptions) error {
	rows, err := e.pool.Query(ctx, `SELECT id FROM departments ORDER BY id`)
	if err != nil {
		return err
	}
	deptIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return err
	}
	if len(deptIDs) == 0 {
		return errors.New("no departments")
	}

	for i := 1; i <= opts.doctors; i++ {
		first, last := faker.FirstName(), faker.LastName()
		username := fmt.Sprintf("dr.%s%d", lettersOnly(last), i)
		userID, err := ensureUser(ctx, a, e, username, opts.password, access.RoleDoctor)
		if err != nil {
			return err
		}
		_, err = e.pool.Exec(ctx, `
			INSERT INTO doctors (user_id, full_name, department_id)
			SELECT $1::bigint, $2, $3
			WHERE NOT EXISTS (SELECT 1 FROM doctors WHERE user_id = $1::bigint)`,
			userID, "Dr. "+first+" "+last, deptIDs[faker.Number(0, len(deptIDs)-1)])
		if err != nil {
			return err
		}
	}
	e.logger.Info("doctors seeded", zap.Int("count", opts.doctors))
	return nil
}

// seedPatients bulk loads with COPY; demo rows skip the per-row audit trail.
func seedPatients(ctx context.Context, e *env, faker *gofakeit.Faker, createdBy int64, count int) error {
	genders := []string{"MALE", "FEMALE", "OTHER"}
	now := time.Now()

	const batchSize = 500
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			addr := faker.Address()
			rows = append(rows, []any{
				faker.Name(),
				faker.DateRange(now.AddDate(-90, 0, 0), now.AddDate(0, 0, -1)),
				genders[faker.Number(0, len(genders)-1)],
				faker.Phone(),
				faker.Email(),
				addr.Address,
				createdBy,
			})
		}

		n, err := e.pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"full_name", "date_of_birth", "gender", "phone", "email", "address", "created_by"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		e.logger.Info("patients seeded", zap.Int64("rows", n), zap.Int("progress", end), zap.Int("total", count))
	}
	return nil
}

// seedStock receives batches through the inventory service so every unit has
// an IN movement behind it.
func seedStock(ctx context.Context, a *app.App, e *env, faker *gofakeit.Faker, pharmacist int64) error {
	catalog, err := a.Inventory.ListItems(ctx, pharmacist)
	if err != nil {
		return err
	}
	today := time.Now().UTC()

	received := 0
	for _, item := range catalog {
		for n := faker.Number(1, 3); n > 0; n-- {
			_, err := a.Inventory.ReceiveBatch(ctx, inventory.ReceiveRequest{
				ItemID:      item.ID,
				BatchNumber: fmt.Sprintf("B%s-%04d", strings.ToUpper(faker.LetterN(3)), faker.Number(0, 9999)),
				Supplier:    faker.Company(),
				Quantity:    faker.Number(20, 200),
				ExpiryDate:  today.AddDate(0, faker.Number(1, 18), 0),
			}, pharmacist)
			if errors.Is(err, inventory.ErrDuplicateBatch) {
				continue
			}
			if err != nil {
				return err
			}
			received++
		}
	}
	e.logger.Info("stock seeded", zap.Int("batches", received))
	return nil
}

func lettersOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}
