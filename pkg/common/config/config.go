package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Phenotyping model
	PhenotypeCount       int
	ConvergenceThreshold float64
	MaxIterations        int
	SmoothingPseudocount float64
	RandomSeed           int64
	TrainingWorkers      int
	ModalityWeightText   float64
	ModalityWeightDiag   float64
	ModalityWeightMeds   float64
	ModalityWeightLabs   float64

	// Lexicons and vocabularies
	TriggerLexiconPath string
	VocabularyPath     string
	LabRangesPath      string

	// Summary reporting
	SummaryTopPhenotypes int
	SummaryTopFeatures   int
	SummaryFloor         float64

	// Artifacts and caching
	ArtifactDir     string
	SummaryCacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "phenoscope"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "phenoscope123"),
		PostgresDB:       getEnv("POSTGRES_DB", "phenoscope"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "phenoscope-platform"),

		PhenotypeCount:       getIntEnv("PHENOTYPE_COUNT", 10),
		ConvergenceThreshold: getFloatEnv("CONVERGENCE_THRESHOLD", 1e-4),
		MaxIterations:        getIntEnv("MAX_ITERATIONS", 100),
		SmoothingPseudocount: getFloatEnv("SMOOTHING_PSEUDOCOUNT", 0.01),
		RandomSeed:           int64(getIntEnv("RANDOM_SEED", 42)),
		TrainingWorkers:      getIntEnv("TRAINING_WORKERS", 4),
		ModalityWeightText:   getFloatEnv("MODALITY_WEIGHT_TEXT", 1.0),
		ModalityWeightDiag:   getFloatEnv("MODALITY_WEIGHT_DIAGNOSIS", 1.0),
		ModalityWeightMeds:   getFloatEnv("MODALITY_WEIGHT_MEDICATION", 1.0),
		ModalityWeightLabs:   getFloatEnv("MODALITY_WEIGHT_LAB", 1.0),

		TriggerLexiconPath: getEnv("TRIGGER_LEXICON_PATH", ""),
		VocabularyPath:     getEnv("VOCABULARY_PATH", ""),
		LabRangesPath:      getEnv("LAB_RANGES_PATH", ""),

		SummaryTopPhenotypes: getIntEnv("SUMMARY_TOP_PHENOTYPES", 5),
		SummaryTopFeatures:   getIntEnv("SUMMARY_TOP_FEATURES", 5),
		SummaryFloor:         getFloatEnv("SUMMARY_PROBABILITY_FLOOR", 0.01),

		ArtifactDir:     getEnv("ARTIFACT_DIR", "artifacts"),
		SummaryCacheTTL: getDuration("SUMMARY_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
