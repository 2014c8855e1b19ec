package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/cache"
	"github.com/emrgen/docsearch/internal/config"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/genai"
	"github.com/emrgen/docsearch/internal/job"
	"github.com/emrgen/docsearch/internal/llm"
	"github.com/emrgen/docsearch/internal/rerank"
	"github.com/emrgen/docsearch/internal/server"
	"github.com/emrgen/docsearch/internal/service"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search service",
	Run: func(cmd *cobra.Command, args []string) {
		cnf := config.LoadConfig()

		gormStore := store.NewGormStore(config.GetDb(cnf))
		if err := gormStore.Migrate(); err != nil {
			logrus.Fatalf("failed to migrate database: %v", err)
		}

		blobs, err := newBlobStore(cmd.Context(), cnf)
		if err != nil {
			logrus.Fatalf("failed to open blob store: %v", err)
		}

		var docCache cache.DocumentCache = cache.NewNopCache()
		if cnf.RedisAddr != "" {
			docCache = cache.NewRedisDocumentCache(cnf.RedisAddr)
		}

		client := genai.NewClient(genai.Config{
			BaseURL:    cnf.GenAIBaseURL,
			APIKey:     cnf.GenAIAPIKey,
			EmbedModel: cnf.EmbedModel,
			GenModel:   cnf.LLMModel,
		})

		docs := service.NewDocumentService(
			gormStore,
			blobs,
			docCache,
			embed.NewEmbedder(client),
			llm.NewExtractor(client),
			rerank.NewReranker(client),
		)

		executor := job.NewTaskExecutor([]job.CronJob{
			job.NewOrphanSweeper(gormStore, blobs),
		})
		executor.Run()
		defer executor.Stop()

		srv := server.NewServer(docs, server.NewAuthenticator(cnf.TrustedServices), cnf.HTTPPort)

		go func() {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logrus.Errorf("shutdown error: %v", err)
			}
		}()

		if err := srv.Start(); err != nil {
			logrus.Infof("server stopped: %v", err)
		}
	},
}

func newBlobStore(ctx context.Context, cnf *config.Config) (blob.Store, error) {
	if cnf.MinioEndpoint != "" {
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cnf.MinioEndpoint,
			AccessKey: cnf.MinioAccessKey,
			SecretKey: cnf.MinioSecretKey,
			Bucket:    cnf.MinioBucket,
			UseSSL:    cnf.MinioUseSSL,
		})
	}

	logrus.Warnf("MINIO_ENDPOINT not set, using filesystem blob store at %s", cnf.BlobDir)
	return blob.NewFSStore(cnf.BlobDir)
}
