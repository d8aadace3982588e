package http

import (
	"github.com/gin-gonic/gin"

	"agentkb/internal/bootstrap"
	"agentkb/internal/transport/http/handler"
	"agentkb/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	knowledgeHandler := handler.NewKnowledgeHandler(
		app.Knowledge,
		app.IngestPublisher,
		app.Config.App.UploadDir,
	)

	v1 := router.Group("/api/v1")
	kb := v1.Group("/knowledge")
	kb.Use(middleware.AuthAPIKey(app.Config.Auth.APIKey, app.Config.Auth.Enable))

	kb.POST("/documents", knowledgeHandler.AddDocument)
	kb.POST("/documents/upload", knowledgeHandler.UploadDocument)
	kb.POST("/documents/async", knowledgeHandler.AddDocumentAsync)
	kb.GET("/documents", knowledgeHandler.ListDocuments)
	kb.DELETE("/documents/:id", knowledgeHandler.DeleteDocument)
	kb.GET("/documents/:id/chunks", knowledgeHandler.GetDocumentChunks)
	kb.PATCH("/documents/:id/metadata", knowledgeHandler.UpdateDocumentMetadata)
	kb.GET("/documents/:id/chunks/:index/metadata", knowledgeHandler.GetChunkMetadata)
	kb.PATCH("/documents/:id/chunks/:index/metadata", knowledgeHandler.UpdateChunkMetadata)

	kb.POST("/search", knowledgeHandler.Search)

	kb.GET("/metadata/fields", knowledgeHandler.ListMetadataFields)
	kb.POST("/metadata/fields", knowledgeHandler.CreateMetadataField)
	kb.DELETE("/metadata/fields/:key", knowledgeHandler.DeleteMetadataField)

	return router
}
