// Command simulate drives mixed front-desk and pharmacy traffic against a
// running api-server and prints per-operation latency and outcome counts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/api"
	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
	"github.com/hackgods/hospital-operations/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	ReadRatio    float64
	PatientLimit int
	HorizonDays  int
}

// DataPool holds the ids workers draw from. Appointments grow as bookings
// succeed.
type DataPool struct {
	Receptionist int64
	Pharmacist   int64
	Patients     []int64
	Doctors      []int64
	Slots        []int64
	Items        []int64

	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     atomic.Int64
	Success   atomic.Int64
	Conflict  atomic.Int64
	Error     atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	om.Total.Add(1)
	switch {
	case status >= 200 && status < 300:
		om.Success.Add(1)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		om.Conflict.Add(1)
	default:
		om.Error.Add(1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking    OperationMetrics
	Confirm    OperationMetrics
	ReadByID   OperationMetrics
	DailyQueue OperationMetrics
	StockLevel OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(baseCfg.Env, "simulate")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulator config", zap.Error(err))
	}
	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("confirm", cfg.ConfirmRatio),
		zap.Float64("read", cfg.ReadRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	pgPool.Close()
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("doctors", len(dataPool.Doctors)),
		zap.Int("slots", len(dataPool.Slots)),
		zap.Int("items", len(dataPool.Items)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 14),
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return errors.New("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	staff := func(role string) (int64, error) {
		var id int64
		err := pool.QueryRow(ctx, `
			SELECT id FROM users
			WHERE $1 = ANY(roles) AND account_status = 'ACTIVE'
			ORDER BY id LIMIT 1`, role).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("no active %s account; run hospctl seed", strings.ToLower(role))
		}
		return id, err
	}
	ids := func(sql string, args ...any) ([]int64, error) {
		rows, err := pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowTo[int64])
	}

	var err error
	if dp.Receptionist, err = staff("RECEPTIONIST"); err != nil {
		return nil, err
	}
	if dp.Pharmacist, err = staff("PHARMACIST"); err != nil {
		return nil, err
	}
	if dp.Patients, err = ids(`SELECT id FROM patients ORDER BY id LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dp.Doctors, err = ids(`SELECT id FROM doctors WHERE status = 'ACTIVE' ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if dp.Slots, err = ids(`SELECT id FROM time_slots ORDER BY start_time`); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if dp.Items, err = ids(`SELECT id FROM pharmacy_items ORDER BY id`); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	switch {
	case len(dp.Patients) == 0:
		return nil, errors.New("no patients loaded")
	case len(dp.Doctors) == 0:
		return nil, errors.New("no active doctors loaded")
	case len(dp.Slots) == 0:
		return nil, errors.New("no time slots loaded")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := range s.config.Workers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))
	faker := gofakeit.New(0)

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			switch rng.IntN(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doDailyQueue(ctx, rng)
			case 2:
				s.doStockLevel(ctx, rng)
			}
		}
	}
}

// call sends one request as actor and decodes the envelope data into out when
// out is non-nil. Requests cut short by the run deadline are not recorded.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, actor int64, body, out any) {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &payload)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", strconv.FormatInt(actor, 10))

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
			s.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode)
	if out != nil && resp.StatusCode < 300 {
		env := api.Envelope{Data: out}
		_ = json.NewDecoder(resp.Body).Decode(&env)
	}
}

var visitReasons = []string{
	"follow-up", "persistent cough", "blood pressure review", "skin rash",
	"back pain", "annual check-up", "lab results", "medication review",
}

func pick(rng *rand.Rand, ids []int64) int64 {
	return ids[rng.IntN(len(ids))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	date := time.Now().UTC().AddDate(0, 0, 1+rng.IntN(s.config.HorizonDays))
	req := api.BookAppointmentRequest{
		PatientID:  pick(rng, s.pool.Patients),
		DoctorID:   pick(rng, s.pool.Doctors),
		TimeSlotID: pick(rng, s.pool.Slots),
		Date:       date.Format(time.DateOnly),
		Reason:     faker.RandomString(visitReasons),
	}

	var created struct {
		ID int64 `json:"id"`
	}
	s.call(ctx, &s.metrics.Booking, http.MethodPost, "/appointments", s.pool.Receptionist, req, &created)
	if created.ID != 0 {
		s.pool.AddAppointment(created.ID)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.Confirm, http.MethodPost,
		fmt.Sprintf("/appointments/%d/confirm", id), s.pool.Receptionist, nil, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.ReadByID, http.MethodGet,
		fmt.Sprintf("/appointments/%d", id), s.pool.Receptionist, nil, nil)
}

func (s *Simulator) doDailyQueue(ctx context.Context, rng *rand.Rand) {
	date := time.Now().UTC().AddDate(0, 0, rng.IntN(s.config.HorizonDays+1))
	s.call(ctx, &s.metrics.DailyQueue, http.MethodGet,
		fmt.Sprintf("/appointments/queue?doctor_id=%d&date=%s", pick(rng, s.pool.Doctors), date.Format(time.DateOnly)),
		s.pool.Receptionist, nil, nil)
}

func (s *Simulator) doStockLevel(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Items) == 0 {
		return
	}
	s.call(ctx, &s.metrics.StockLevel, http.MethodGet,
		fmt.Sprintf("/inventory/items/%d/stock", pick(rng, s.pool.Items)), s.pool.Pharmacist, nil, nil)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Daily queue", &s.metrics.DailyQueue)
	printOperationReport("Stock level", &s.metrics.StockLevel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := om.Total.Load()
	if total == 0 {
		return
	}
	success, conflict, failed := om.Success.Load(), om.Conflict.Load(), om.Error.Load()
	avg, lo, hi, p50, p95 := om.Stats()
	share := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, share(success))
	if conflict > 0 {
		fmt.Printf("  Rejected by rule: %d (%.1f%%)\n", conflict, share(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, share(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
