package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Gateway GatewayConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	gateway, err := loadGatewayConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Gateway: gateway}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// GatewayConfig holds the request-handling knobs of the gateway core.
type GatewayConfig struct {
	MaxHistory      int
	MaxRequests     int
	Window          time.Duration
	MaxMessageChars int
	RequestTimeout  time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	SystemPrompt    string
	JWTSecret       string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。MaxTokens 限定单次生成的输出预算。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parsePositiveIntEnv("GATEWAY_MAX_OUTPUT_TOKENS", 1000)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func loadGatewayConfig() (GatewayConfig, error) {
	maxHistory, err := parsePositiveIntEnv("GATEWAY_MAX_HISTORY", 10)
	if err != nil {
		return GatewayConfig{}, err
	}

	maxRequests, err := parsePositiveIntEnv("GATEWAY_MAX_REQUESTS", 10)
	if err != nil {
		return GatewayConfig{}, err
	}

	windowSeconds, err := parsePositiveIntEnv("GATEWAY_WINDOW_SECONDS", 60)
	if err != nil {
		return GatewayConfig{}, err
	}

	maxMessageChars, err := parsePositiveIntEnv("GATEWAY_MAX_MESSAGE_CHARS", 2000)
	if err != nil {
		return GatewayConfig{}, err
	}

	timeoutSeconds, err := parsePositiveIntEnv("GATEWAY_TIMEOUT_SECONDS", 30)
	if err != nil {
		return GatewayConfig{}, err
	}

	sessionTTLMinutes, err := parsePositiveIntEnv("GATEWAY_SESSION_TTL_MINUTES", 60)
	if err != nil {
		return GatewayConfig{}, err
	}

	sweepMinutes, err := parsePositiveIntEnv("GATEWAY_SWEEP_INTERVAL_MINUTES", 5)
	if err != nil {
		return GatewayConfig{}, err
	}

	return GatewayConfig{
		MaxHistory:      maxHistory,
		MaxRequests:     maxRequests,
		Window:          time.Duration(windowSeconds) * time.Second,
		MaxMessageChars: maxMessageChars,
		RequestTimeout:  time.Duration(timeoutSeconds) * time.Second,
		SessionTTL:      time.Duration(sessionTTLMinutes) * time.Minute,
		SweepInterval:   time.Duration(sweepMinutes) * time.Minute,
		SystemPrompt:    getEnvOrDefault("GATEWAY_SYSTEM_PROMPT", "You are a concise, helpful assistant."),
		JWTSecret:       strings.TrimSpace(os.Getenv("GATEWAY_JWT_SECRET")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parsePositiveIntEnv 解析正整数配置，缺省时返回默认值。
func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
