// Package main 是应用程序的入口点。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/handler"
	"kb-pilot-go/internal/index"
	"kb-pilot-go/internal/middleware"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/pipeline"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/repository"
	"kb-pilot-go/internal/service"
	"kb-pilot-go/pkg/database"
	"kb-pilot-go/pkg/embedding"
	"kb-pilot-go/pkg/es"
	"kb-pilot-go/pkg/extract"
	"kb-pilot-go/pkg/kafka"
	"kb-pilot-go/pkg/llm"
	"kb-pilot-go/pkg/log"
	"kb-pilot-go/pkg/storage"
	"kb-pilot-go/pkg/token"
	"kb-pilot-go/pkg/tokenizer"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施：数据库、Redis、对象存储、向量索引、消息队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	embeddingClient := embedding.NewClient(cfg.Embedding)
	embedder := rag.NewFallbackEmbedder(
		rag.NewRemoteEmbedder(embeddingClient, cfg.Embedding),
		rag.NewLexicalEmbedder(cfg.Embedding),
	)
	lexical := rag.NewLexicalEmbedder(cfg.Embedding)

	// 每个模态一个索引，维度取自该模态的嵌入模型配置
	dims := map[model.Modality]int{
		model.ModalityText:  embedder.Dimensions(model.ModalityText),
		model.ModalityImage: embedder.Dimensions(model.ModalityImage),
		model.ModalityAudio: embedder.Dimensions(model.ModalityAudio),
		model.ModalityVideo: embedder.Dimensions(model.ModalityVideo),
	}
	if err := es.InitES(cfg.Elasticsearch, dims); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 组装检索增强生成管线
	counter, err := tokenizer.GetCounter()
	if err != nil {
		log.Fatalf("初始化 token 计数器失败: %v", err)
	}
	vectorIndex := index.NewESIndex(cfg.Elasticsearch)
	scorer := rag.NewScorer(cfg.Retrieval)
	builder := rag.NewContextBuilder(counter, cfg.Context.Narrative)
	prompts := rag.NewPromptBuilder(cfg.LLM.Prompt, cfg.Context.HistoryTurns)
	llmClient := llm.NewClient(cfg.LLM)
	generator := rag.NewGenerator(
		service.NewLLMBackend(llmClient),
		prompts,
		cfg.LLM.MaxConcurrency,
		time.Duration(cfg.LLM.AcquireTimeoutSecs)*time.Second,
		time.Duration(cfg.LLM.TimeoutSecs)*time.Second,
	)
	ragPipeline := rag.NewPipeline(embedder, lexical, vectorIndex, scorer, builder, generator, cfg.Retrieval, cfg.Context)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.ChatTokenExpireMins)
	answerService := service.NewAnswerService(ragPipeline, conversationRepo)
	chatService := service.NewChatService(ragPipeline, llmClient, prompts, generator, conversationRepo)
	documentService := service.NewDocumentService(docRepo, vectorIndex, cfg.MinIO)

	// 7. 初始化摄取处理管线并启动后台 Kafka 消费者
	extractClient := extract.NewClient(cfg.Extract)
	processor := pipeline.NewProcessor(docRepo, chunkRepo, extractClient, embedder, vectorIndex, cfg.MinIO, cfg.Ingest)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	chatHandler := handler.NewChatHandler(chatService, jwtManager)
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.APIKeyAuth(cfg.Auth))
	{
		apiV1.POST("/ask", handler.NewAskHandler(answerService).Ask)
		apiV1.GET("/search", handler.NewSearchHandler(answerService).Search)
		apiV1.GET("/chat/token", chatHandler.IssueToken)

		documents := apiV1.Group("/documents")
		{
			docHandler := handler.NewDocumentHandler(documentService)
			documents.POST("", docHandler.Register)
			documents.GET("", docHandler.List)
			documents.GET("/:id", docHandler.Get)
			documents.POST("/:id/reingest", docHandler.Reingest)
			documents.DELETE("/:id", docHandler.Delete)
			documents.GET("/:id/download", docHandler.DownloadURL)
		}

		conversations := apiV1.Group("/conversations")
		{
			convHandler := handler.NewConversationHandler(conversationRepo)
			conversations.GET("/:id", convHandler.History)
			conversations.DELETE("/:id", convHandler.Clear)
		}
	}
	// WebSocket 握手带不了自定义头，连接凭证走路径参数，不经过 API Key 中间件
	r.GET("/ws/chat/:token", chatHandler.Handle)

	// 10. 启动 HTTP 服务并等待退出信号，优雅关停
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Infof("服务器启动，监听端口 %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("服务器关闭异常: %v", err)
	}
	log.Info("服务器已退出")
}
