package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"agentkb/internal/app"
	"agentkb/internal/model"
)

// IngestWorker consumes asynchronous add-document jobs from the ingest
// queue and feeds them to the knowledge service, keeping slow embedding
// work off the request path.
type IngestWorker struct {
	conn      *amqp.Connection
	service   *app.KnowledgeService
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, service *app.KnowledgeService, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		service:   service,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var job model.IngestJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					log.Printf("worker decode ingest job failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				documentID, err := w.service.AddDocument(workerCtx, app.AddDocumentInput{
					FilePath:         job.FilePath,
					DocumentID:       job.DocumentID,
					Metadata:         job.Metadata,
					SelectedMetadata: job.SelectedMetadata,
				})
				if err != nil {
					log.Printf("worker ingest %s failed: %v", job.FilePath, err)
					_ = d.Nack(false, false)
					continue
				}

				log.Printf("worker ingested %s as document %s", job.FilePath, documentID)
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
