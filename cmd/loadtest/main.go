// Command loadtest нагружает HTTP API маркетплейса конкурентным созданием заказов.
//
// Перед прогоном создаются заведение и продукт от имени владельца; затем воркеры
// создают заказы с Idempotency-Key и проверяют, что сумма заказа равна цене × количество.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/transport/httpapi"
)

const (
	envJWTSecret   = "MARKETPLACE_JWT_SECRET"
	methodScenario = "scenario"
	methodCreate   = "CreateOrder"
	methodReplay   = "ReplayOrder"
	methodCancel   = "CancelOrder"
	ownerTokenTTL  = time.Hour
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateReplay loadMode = "create-replay"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	jwtSecret   string
	priceMinor  int64
	quantity    int
	customerTag string
	outputPath  string
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, priceValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-replay | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "cancel probability in percent for create-cancel mode (0..100)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HS256 secret used to sign test tokens (fallback: "+envJWTSecret+")")
	fs.StringVar(&priceValue, "price", "4.50", "product price in major units")
	fs.IntVar(&cfg.quantity, "quantity", 2, "quantity per order line")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := domain.ParseMinor(priceValue)
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.priceMinor = price

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		cfg.jwtSecret = strings.TrimSpace(getenv(envJWTSecret))
	}

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.priceMinor <= 0:
		return cfg, errors.New("price must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case cfg.jwtSecret == "":
		return cfg, fmt.Errorf("jwt-secret (or %s) is required", envJWTSecret)
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateReplay, modeCreateCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// apiClient: минимальный JSON-клиент API с подписью токенов.
type apiClient struct {
	base   string
	http   *http.Client
	secret []byte
}

func newAPIClient(cfg config) *apiClient {
	return &apiClient{
		base:   cfg.addr,
		http:   &http.Client{Timeout: cfg.timeout},
		secret: []byte(cfg.jwtSecret),
	}
}

func (c *apiClient) token(userID string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, httpapi.Claims{
		ID:    httpapi.UserID(userID),
		Email: userID + "@loadtest.local",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ownerTokenTTL)),
		},
	}).SignedString(c.secret)
}

// do выполняет запрос и возвращает HTTP-статус; 0: ответ не получен.
func (c *apiClient) do(ctx context.Context, method, path, userID string, headers map[string]string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if userID != "" {
		token, err := c.token(userID)
		if err != nil {
			return 0, fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

type catalog struct {
	establishmentID string
	productID       string
}

type orderResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	TotalMinor int64  `json:"total_minor"`
}

// setupCatalog создаёт заведение и продукт, по которым идут заказы.
func setupCatalog(ctx context.Context, client *apiClient, cfg config, runID string) (catalog, error) {
	owner := fmt.Sprintf("%s-owner-%s", cfg.customerTag, runID)

	var est struct {
		ID string `json:"id"`
	}
	if _, err := client.do(ctx, http.MethodPost, "/establishments", owner, nil, map[string]string{
		"name":    "Load test " + runID,
		"address": "localhost",
	}, &est); err != nil {
		return catalog{}, fmt.Errorf("create establishment: %w", err)
	}

	var prod struct {
		ID string `json:"id"`
	}
	if _, err := client.do(ctx, http.MethodPost, "/products", owner, nil, map[string]string{
		"establishment_id": est.ID,
		"name":             "Load item",
		"price":            domain.FormatMinor(cfg.priceMinor),
	}, &prod); err != nil {
		return catalog{}, fmt.Errorf("create product: %w", err)
	}

	return catalog{establishmentID: est.ID, productID: prod.ID}, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	client := newAPIClient(cfg)

	setupCtx, cancel := context.WithTimeout(context.Background(), cfg.timeout*2)
	cat, err := setupCatalog(setupCtx, client, cfg, runID)
	cancel()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(client, cfg, cat, runID)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(client *apiClient, cfg config, cat catalog, runID string) report {
	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(client, cfg, cat, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client *apiClient, cfg config, cat catalog, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	scenarioStatus := http.StatusOK
	defer func() {
		if err != nil && scenarioStatus < 300 {
			scenarioStatus = http.StatusExpectationFailed
		}
		col.record(methodScenario, time.Since(scenarioStart), scenarioStatus)
	}()

	customer := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	key := fmt.Sprintf("lt-create-%s-%d", runID, index)

	order, status, err := createOrder(client, cfg, cat, customer, key, methodCreate, col)
	if err != nil {
		scenarioStatus = status
		return err
	}
	if want := cfg.priceMinor * int64(cfg.quantity); order.TotalMinor != want {
		return fmt.Errorf("order %s total %d, want %d", order.ID, order.TotalMinor, want)
	}

	switch cfg.mode {
	case modeCreateReplay:
		replayed, status, err := createOrder(client, cfg, cat, customer, key, methodReplay, col)
		if err != nil {
			scenarioStatus = status
			return err
		}
		if replayed.ID != order.ID {
			return fmt.Errorf("replay returned order %s, want %s", replayed.ID, order.ID)
		}
	case modeCreateCancel:
		if !shouldCancelScenario(index, cfg.cancelRate) {
			return nil
		}
		status, err := cancelOrder(client, cfg, order.ID, customer, col)
		if err != nil {
			scenarioStatus = status
			return err
		}
	}

	return nil
}

func createOrder(client *apiClient, cfg config, cat catalog, customer, key, method string, col *collector) (orderResult, int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	var order orderResult
	status, err := client.do(ctx, http.MethodPost, "/orders", customer,
		map[string]string{httpapi.IdempotencyKeyHeader: key},
		map[string]any{
			"establishment_id": cat.establishmentID,
			"items": []map[string]any{
				{"product_id": cat.productID, "quantity": cfg.quantity},
			},
		}, &order)
	col.record(method, time.Since(start), status)
	return order, status, err
}

func cancelOrder(client *apiClient, cfg config, orderID, customer string, col *collector) (int, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	status, err := client.do(ctx, http.MethodPatch, "/orders/"+orderID+"/cancel", customer, nil, nil, nil)
	col.record(methodCancel, time.Since(start), status)
	return status, err
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
