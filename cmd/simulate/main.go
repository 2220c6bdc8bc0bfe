package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/config"
	"github.com/etiba/appointment-scheduling/internal/db"
	"github.com/etiba/appointment-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int // identical proposals fired at one slot per race
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	PostgresDSN  string
}

type person struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type doctorRef struct {
	person
	Location *time.Location
}

type DataPool struct {
	Patients []person
	Doctors  []doctorRef

	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	ID          uuid.UUID
	PatientUser uuid.UUID
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Availability OperationMetrics
	Propose      OperationMetrics
	Cancel       OperationMetrics
	List         OperationMetrics

	// races counts slot races; doubleBooked counts races with more than one winner.
	races        int64
	doubleBooked int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	cfg := loadConfig()

	lg, err := logger.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := validateConfig(cfg); err != nil {
		lg.Fatal("invalid config", zap.Error(err))
	}

	lg.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("contenders", cfg.Contenders),
		zap.Float64("read_ratio", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		lg.Fatal("load data pool", zap.Error(err))
	}
	lg.Info("data loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("doctors", len(dataPool.Doctors)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: lg,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 8),
		Contenders:   getInt("SIM_CONTENDERS", 5),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 100),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id, user_id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var p person
		if err := rows.Scan(&p.ID, &p.UserID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, p)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT d.id, d.user_id, d.timezone
		FROM doctors d
		WHERE EXISTS (SELECT 1 FROM doctor_weekly_slots s WHERE s.doctor_id = d.id AND s.is_active)
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var d doctorRef
		var tz string
		if err := rows.Scan(&d.ID, &d.UserID, &tz); err != nil {
			rows.Close()
			return nil, err
		}
		if d.Location, err = time.LoadLocation(tz); err != nil {
			d.Location = time.UTC
		}
		dataPool.Doctors = append(dataPool.Doctors, d)
	}
	rows.Close()

	if len(dataPool.Patients) < cfg.Contenders {
		return nil, fmt.Errorf("need at least %d patients, have %d", cfg.Contenders, len(dataPool.Patients))
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with a weekly schedule")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
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
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		if rng.Float64() < s.config.ReadRatio {
			if rng.Intn(2) == 0 {
				s.doList(ctx, rng)
			} else {
				s.doCancel(ctx, rng)
			}
			continue
		}
		s.doRace(ctx, rng)
	}
}

// doRace finds a free slot and fires Contenders identical proposals at it
// from different patients at once. At most one may win.
func (s *Simulator) doRace(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	asker := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	date := time.Now().In(doctor.Location).AddDate(0, 0, 1+rng.Intn(28)).Format(time.DateOnly)
	slots, ok := s.availability(ctx, doctor, asker, date)
	if !ok || len(slots) == 0 {
		return
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slots[rng.Intn(len(slots))], doctor.Location)
	if err != nil {
		return
	}

	contenders := make([]person, s.config.Contenders)
	for i, idx := range rng.Perm(len(s.pool.Patients))[:s.config.Contenders] {
		contenders[i] = s.pool.Patients[idx]
	}

	var wins int64
	var wg sync.WaitGroup
	ready := make(chan struct{})
	for _, p := range contenders {
		wg.Add(1)
		go func(p person) {
			defer wg.Done()
			<-ready
			if s.propose(ctx, doctor, p, start) {
				atomic.AddInt64(&wins, 1)
			}
		}(p)
	}
	close(ready)
	wg.Wait()

	atomic.AddInt64(&s.metrics.races, 1)
	if wins > 1 {
		atomic.AddInt64(&s.metrics.doubleBooked, 1)
		s.logger.Error("slot double booked",
			zap.String("doctor_id", doctor.ID.String()),
			zap.Time("start", start),
			zap.Int64("winners", wins),
		)
	}
}

func (s *Simulator) availability(ctx context.Context, doctor doctorRef, caller person, date string) ([]string, bool) {
	q := url.Values{"doctor_id": {doctor.ID.String()}, "date": {date}}
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/availability?"+q.Encode(), caller.UserID, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	defer resp.Body.Close()

	var body struct {
		AvailableSlots []string `json:"available_slots"`
	}
	ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
	s.metrics.Availability.Record(latency, ok, false)
	return body.AvailableSlots, ok
}

func (s *Simulator) propose(ctx context.Context, doctor doctorRef, p person, at time.Time) bool {
	payload, _ := json.Marshal(map[string]any{
		"doctor_id":            doctor.ID,
		"appointment_datetime": at.UTC(),
		"duration_minutes":     30,
		"reason":               "simulated visit",
	})

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments", p.UserID, payload)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Propose.Record(latency, false, false)
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if data, _ := io.ReadAll(resp.Body); json.Unmarshal(data, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: appt.ID, PatientUser: p.UserID})
		}
		s.metrics.Propose.Record(latency, true, false)
		return true
	case http.StatusConflict:
		s.metrics.Propose.Record(latency, false, true)
	default:
		s.metrics.Propose.Record(latency, false, false)
	}
	return false
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodDelete, "/appointments/"+b.ID.String()+"?reason=simulated", b.PatientUser, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Cancel.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	// A second cancel of the same appointment is an invalid transition.
	s.metrics.Cancel.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, "/appointments?limit=20", p.UserID, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.List.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	s.metrics.List.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) do(ctx context.Context, method, path string, userID uuid.UUID, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())
	req.Header.Set("X-User-Role", "patient")
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d, contenders per slot: %d\n", s.config.Workers, s.config.Contenders)
	fmt.Printf("Slot races: %d, double bookings: %d\n\n",
		atomic.LoadInt64(&s.metrics.races), atomic.LoadInt64(&s.metrics.doubleBooked))

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Propose", &s.metrics.Propose)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
