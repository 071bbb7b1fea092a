package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port          int
	JWTSecret     string
	Store         string
	DatabaseURL   string
	RedisURL      string
	EncryptionKey string
	CORSOrigins   []string
	AdminEmail    string
	AdminPassword string

	// TrustedProxies may set X-Real-IP and X-Forwarded-For.
	TrustedProxies []netip.Prefix

	Gateway GatewayConfig
	Billing BillingConfig
	Log     LogConfig
	Catalog string
}

// GatewayConfig holds the hosted payment gateway settings.
type GatewayConfig struct {
	PayURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Locale     string
	Location   *time.Location
	// FrontendURL is where the browser lands after the gateway callback.
	FrontendURL string
}

// BillingConfig holds checkout and trial policy.
type BillingConfig struct {
	CheckoutLimit  int
	CheckoutWindow time.Duration
	TrialDays      int
	TrialPlan      string
	BankName       string
	BankAccount    string
	BankHolder     string
}

// LogConfig selects zerolog level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then configuration from environment
// variables with sensible defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "4001"))
	if err != nil {
		return nil, fmt.Errorf("PORT must be a number: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	store := strings.ToLower(getEnv("STORE", StorePostgres))
	if store != StorePostgres && store != StoreMemory {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, store)
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" && store == StorePostgres {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	encKey := getEnv("ENCRYPTION_KEY", "")
	if encKey != "" && len(encKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encKey))
	}

	gw, err := loadGateway()
	if err != nil {
		return nil, err
	}
	billing, err := loadBilling()
	if err != nil {
		return nil, err
	}

	proxies, err := parseTrustedProxies(getEnv("TRUSTED_PROXIES", ""))
	if err != nil {
		return nil, err
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:           port,
		JWTSecret:      jwtSecret,
		Store:          store,
		DatabaseURL:    dbURL,
		RedisURL:       getEnv("REDIS_URL", ""),
		EncryptionKey:  encKey,
		CORSOrigins:    origins,
		TrustedProxies: proxies,
		AdminEmail:     getEnv("ADMIN_EMAIL", "admin@example.com"),
		AdminPassword:  getEnv("ADMIN_PASSWORD", "admin123"),
		Gateway:        *gw,
		Billing:        *billing,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Catalog: getEnv("PLAN_CATALOG", "plans.yaml"),
	}, nil
}

func loadGateway() (*GatewayConfig, error) {
	gw := &GatewayConfig{
		PayURL:      getEnv("GATEWAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		TmnCode:     getEnv("GATEWAY_TMN_CODE", ""),
		HashSecret:  getEnv("GATEWAY_HASH_SECRET", ""),
		ReturnURL:   getEnv("GATEWAY_RETURN_URL", ""),
		Locale:      getEnv("GATEWAY_LOCALE", "vn"),
		FrontendURL: getEnv("FRONTEND_BILLING_URL", ""),
	}
	for name, v := range map[string]string{
		"GATEWAY_TMN_CODE":     gw.TmnCode,
		"GATEWAY_HASH_SECRET":  gw.HashSecret,
		"GATEWAY_RETURN_URL":   gw.ReturnURL,
		"FRONTEND_BILLING_URL": gw.FrontendURL,
	} {
		if v == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	loc, err := time.LoadLocation(getEnv("GATEWAY_TIMEZONE", "Asia/Ho_Chi_Minh"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEZONE: %w", err)
	}
	gw.Location = loc
	return gw, nil
}

func loadBilling() (*BillingConfig, error) {
	limit, err := strconv.Atoi(getEnv("CHECKOUT_RATE_LIMIT", "5"))
	if err != nil || limit <= 0 {
		return nil, fmt.Errorf("CHECKOUT_RATE_LIMIT must be a positive number")
	}
	window, err := time.ParseDuration(getEnv("CHECKOUT_RATE_WINDOW", "1m"))
	if err != nil || window <= 0 {
		return nil, fmt.Errorf("CHECKOUT_RATE_WINDOW must be a positive duration")
	}
	trialDays, err := strconv.Atoi(getEnv("TRIAL_DAYS", "14"))
	if err != nil || trialDays < 0 {
		return nil, fmt.Errorf("TRIAL_DAYS must be zero or a positive number")
	}
	return &BillingConfig{
		CheckoutLimit:  limit,
		CheckoutWindow: window,
		TrialDays:      trialDays,
		TrialPlan:      getEnv("TRIAL_PLAN", "basic"),
		BankName:       getEnv("BANK_NAME", ""),
		BankAccount:    getEnv("BANK_ACCOUNT_NUMBER", ""),
		BankHolder:     getEnv("BANK_ACCOUNT_NAME", ""),
	}, nil
}

// parseTrustedProxies reads a comma separated list of CIDRs or bare addresses.
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
