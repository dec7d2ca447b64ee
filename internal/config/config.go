// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Extract       ExtractConfig       `mapstructure:"extract"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Context       ContextConfig       `mapstructure:"context"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig 存储接入认证相关的配置。
// APIKeyHashes 保存的是调用方 API Key 的 bcrypt 哈希，明文不落盘。
type AuthConfig struct {
	APIKeyHashes        []string `mapstructure:"api_key_hashes"`
	JWTSecret           string   `mapstructure:"jwt_secret"`
	ChatTokenExpireMins int      `mapstructure:"chat_token_expire_mins"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ExtractConfig 存储文本抽取协作服务（Tika）相关的配置。
type ExtractConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
// 每个模态一个独立索引，索引名为 IndexPrefix + "_" + 模态名。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ModalityModelConfig 描述单个模态的嵌入模型及其向量维度。
type ModalityModelConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Text 为必配项；Image/Audio/Video 未配置模型时回退到文本模型嵌入其描述文本，
// 维度沿用文本模型的维度。
type EmbeddingConfig struct {
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Text    ModalityModelConfig `mapstructure:"text"`
	Image   ModalityModelConfig `mapstructure:"image"`
	Audio   ModalityModelConfig `mapstructure:"audio"`
	Video   ModalityModelConfig `mapstructure:"video"`
}

// LLMConfig 存储生成后端相关的配置。
// AcquireTimeoutSecs 是生成调用在信号量上的排队上限，排不进去走降级。
type LLMConfig struct {
	APIKey             string              `mapstructure:"api_key"`
	BaseURL            string              `mapstructure:"base_url"`
	Model              string              `mapstructure:"model"`
	TimeoutSecs        int                 `mapstructure:"timeout_secs"`
	AcquireTimeoutSecs int                 `mapstructure:"acquire_timeout_secs"`
	MaxConcurrency     int                 `mapstructure:"max_concurrency"`
	Generation         LLMGenerationConfig `mapstructure:"generation"`
	Prompt             LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
	FallbackLead string `mapstructure:"fallback_lead"`
}

// RetrievalConfig 存储检索与排序相关的策略参数。
// 三个权重之和应为 1，SimilarityWeight 占主导（>= 0.6）。
// 权重与阈值是经验调优的策略参数，不是契约常量。
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	SimilarityWeight    float64 `mapstructure:"similarity_weight"`
	MetadataWeight      float64 `mapstructure:"metadata_weight"`
	RecencyWeight       float64 `mapstructure:"recency_weight"`
	RecencyWindowDays   int     `mapstructure:"recency_window_days"`
}

// ContextConfig 存储上下文窗口装配相关的配置。
type ContextConfig struct {
	MaxTokens    int  `mapstructure:"max_tokens"`
	HistoryTurns int  `mapstructure:"history_turns"`
	Narrative    bool `mapstructure:"narrative"`
}

// IngestConfig 存储文档摄取（切块）相关的配置。
type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	ApplyDefaults(&Conf)
}

// ApplyDefaults 补齐未配置的策略参数，保证核心管线拿到的永远是合法配置。
func ApplyDefaults(c *Config) {
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.SimilarityThreshold <= 0 {
		c.Retrieval.SimilarityThreshold = 0.7
	}
	if c.Retrieval.SimilarityWeight <= 0 {
		c.Retrieval.SimilarityWeight = 0.7
		c.Retrieval.MetadataWeight = 0.2
		c.Retrieval.RecencyWeight = 0.1
	}
	if c.Retrieval.RecencyWindowDays <= 0 {
		c.Retrieval.RecencyWindowDays = 60
	}
	if c.Context.MaxTokens <= 0 {
		c.Context.MaxTokens = 4000
	}
	if c.Context.HistoryTurns <= 0 {
		c.Context.HistoryTurns = 10
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 500
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		c.Ingest.ChunkOverlap = 50
	}
	if c.LLM.TimeoutSecs <= 0 {
		c.LLM.TimeoutSecs = 60
	}
	if c.LLM.AcquireTimeoutSecs <= 0 {
		c.LLM.AcquireTimeoutSecs = 5
	}
	if c.LLM.MaxConcurrency <= 0 {
		// 生成后端是独占性资源，默认串行
		c.LLM.MaxConcurrency = 1
	}
	if c.Embedding.Text.Dimensions <= 0 {
		c.Embedding.Text.Dimensions = 768
	}
	if c.Elasticsearch.IndexPrefix == "" {
		c.Elasticsearch.IndexPrefix = "kb_chunks"
	}
	if c.Auth.ChatTokenExpireMins <= 0 {
		c.Auth.ChatTokenExpireMins = 30
	}
}
