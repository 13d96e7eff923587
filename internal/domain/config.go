package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Graph      GraphConfig      `json:"graph"`

	// Engine configuration
	Scoring ScoringConfig `json:"scoring"`
	Fraud   FraudConfig   `json:"fraud"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Validate checks the configuration invariants at startup.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	return c.Fraud.Validate()
}

// ScoringConfig drives the composite risk aggregator.
type ScoringConfig struct {
	// Weights maps factor name to weight. Must sum to exactly 1.0.
	Weights map[string]float64 `json:"weights"`

	// LookbackDays bounds the settlement/spend history scorers read.
	LookbackDays int `json:"lookbackDays"`

	// TrailingMonths is the cash-flow series length.
	TrailingMonths int `json:"trailingMonths"`

	// TopSupplierShare flags single_point_of_failure above this share.
	TopSupplierShare float64 `json:"topSupplierShare"`

	// OwnershipMaxHops bounds the beneficial-owner traversal.
	OwnershipMaxHops int `json:"ownershipMaxHops"`

	// ScorerTimeout bounds each scorer's facade calls.
	ScorerTimeout time.Duration `json:"scorerTimeout"`
}

// weightTolerance absorbs float accumulation when validating the vector.
const weightTolerance = 1e-9

// Validate checks that every known factor has a weight and the vector sums
// to 1.0.
func (s *ScoringConfig) Validate() error {
	factors := []string{
		FactorPaymentBehavior,
		FactorSupplierConcentration,
		FactorOwnershipComplexity,
		FactorCashFlow,
		FactorNetworkExposure,
	}

	var sum float64
	for _, f := range factors {
		w, ok := s.Weights[f]
		if !ok {
			return fmt.Errorf("scoring: missing weight for factor %q", f)
		}
		if w < 0 {
			return fmt.Errorf("scoring: negative weight for factor %q", f)
		}
		sum += w
	}
	if len(s.Weights) != len(factors) {
		return fmt.Errorf("scoring: weight vector has %d entries, want %d", len(s.Weights), len(factors))
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("scoring: weights sum to %v, want 1.0", sum)
	}
	return nil
}

// FraudConfig drives the pattern detectors and the alert manager.
type FraudConfig struct {
	// ScanWindow is the default period a scan examines.
	ScanWindow time.Duration `json:"scanWindow"`

	// BaselineWindow is the historical period ratio tests compare against.
	BaselineWindow time.Duration `json:"baselineWindow"`

	// CycleMaxDepth bounds the circular-payment search.
	CycleMaxDepth int `json:"cycleMaxDepth"`

	// MaxFindingsPerPattern caps findings emitted by one detector per scan.
	MaxFindingsPerPattern int `json:"maxFindingsPerPattern"`

	// DuplicateDateDays is the date proximity for near-duplicate invoices.
	DuplicateDateDays int `json:"duplicateDateDays"`

	// ReportingThreshold is the regulatory threshold structuring skirts.
	ReportingThreshold float64 `json:"reportingThreshold"`

	// StructuringMargin is the fraction of the threshold above which a
	// payment counts as "just below" it.
	StructuringMargin float64 `json:"structuringMargin"`

	// StructuringWindow bounds a structuring sequence in time.
	StructuringWindow time.Duration `json:"structuringWindow"`

	// StructuringMinCount is the minimum sequence length.
	StructuringMinCount int `json:"structuringMinCount"`

	// RoundAmountUnit defines a "round" amount (multiples of this).
	RoundAmountUnit float64 `json:"roundAmountUnit"`

	// MinSampleSize gates the statistical detectors.
	MinSampleSize int `json:"minSampleSize"`

	// OutlierZThreshold gates invoice-amount outliers.
	OutlierZThreshold float64 `json:"outlierZThreshold"`

	// AnomalyConfidence gates the catch-all anomaly detector.
	AnomalyConfidence float64 `json:"anomalyConfidence"`

	// ReportingFloor is the minimum aggregate score that opens an alert.
	ReportingFloor float64 `json:"reportingFloor"`

	// Severity bands, lower bounds. Fixed global table; not tenant-tunable.
	MediumThreshold   float64 `json:"mediumThreshold"`
	HighThreshold     float64 `json:"highThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`

	// ShellMinRelationships and ShellMinVolume define the thin-structure /
	// high-activity mismatch.
	ShellMinRelationships int     `json:"shellMinRelationships"`
	ShellMinVolume        float64 `json:"shellMinVolume"`

	// DetectorTimeout bounds each detector's data access.
	DetectorTimeout time.Duration `json:"detectorTimeout"`
}

// Validate checks the threshold table ordering.
func (f *FraudConfig) Validate() error {
	if f.ReportingFloor < 0 || f.ReportingFloor > 100 {
		return fmt.Errorf("fraud: reporting floor %v out of range", f.ReportingFloor)
	}
	if !(f.ReportingFloor <= f.MediumThreshold &&
		f.MediumThreshold < f.HighThreshold &&
		f.HighThreshold < f.CriticalThreshold) {
		return fmt.Errorf("fraud: severity thresholds must be ordered: floor %v <= medium %v < high %v < critical %v",
			f.ReportingFloor, f.MediumThreshold, f.HighThreshold, f.CriticalThreshold)
	}
	if f.CycleMaxDepth < 2 {
		return fmt.Errorf("fraud: cycle max depth %d too small", f.CycleMaxDepth)
	}
	if f.StructuringMargin <= 0 || f.StructuringMargin >= 1 {
		return fmt.Errorf("fraud: structuring margin %v out of (0,1)", f.StructuringMargin)
	}
	return nil
}

// SeverityFor maps an aggregate score to a severity band.
func (f *FraudConfig) SeverityFor(score float64) Severity {
	switch {
	case score >= f.CriticalThreshold:
		return SeverityCritical
	case score >= f.HighThreshold:
		return SeverityHigh
	case score >= f.MediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + Neo4j + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultWeights returns the fixed factor weight vector.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FactorPaymentBehavior:       0.25,
		FactorSupplierConcentration: 0.15,
		FactorOwnershipComplexity:   0.20,
		FactorCashFlow:              0.25,
		FactorNetworkExposure:       0.15,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			TTL:          5 * time.Minute,
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Graph: GraphConfig{
			Backend:      "sql",
			QueryTimeout: 5 * time.Second,
		},
		Scoring: ScoringConfig{
			Weights:          DefaultWeights(),
			LookbackDays:     365,
			TrailingMonths:   6,
			TopSupplierShare: 0.4,
			OwnershipMaxHops: 5,
			ScorerTimeout:    5 * time.Second,
		},
		Fraud: FraudConfig{
			ScanWindow:            90 * 24 * time.Hour,
			BaselineWindow:        365 * 24 * time.Hour,
			CycleMaxDepth:         6,
			MaxFindingsPerPattern: 25,
			DuplicateDateDays:     2,
			ReportingThreshold:    10000,
			StructuringMargin:     0.9,
			StructuringWindow:     72 * time.Hour,
			StructuringMinCount:   3,
			RoundAmountUnit:       1000,
			MinSampleSize:         20,
			OutlierZThreshold:     3.0,
			AnomalyConfidence:     0.8,
			ReportingFloor:        25,
			MediumThreshold:       50,
			HighThreshold:         75,
			CriticalThreshold:     90,
			ShellMinRelationships: 3,
			ShellMinVolume:        100000,
			DetectorTimeout:       5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier:
// PostgreSQL + Neo4j + Redis + NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		TTL:            5 * time.Minute,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Graph = GraphConfig{
		Backend:       "neo4j",
		Neo4jURI:      "neo4j://localhost:7687",
		Neo4jDatabase: "neo4j",
		QueryTimeout:  5 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
