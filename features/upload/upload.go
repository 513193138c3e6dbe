package upload

import "context"

// Upload is one filing submitted for ingestion. ID doubles as the job id on
// the pipeline bus and the event stream.
type Upload struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	StoredPath    string `json:"-"`
	CompanyID     string `json:"company_id,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	FiscalYear    string `json:"fiscal_year,omitempty"`
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksStored  int    `json:"chunks_stored"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

const (
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type Repository interface {
	Save(ctx context.Context, up *Upload) error
	Get(ctx context.Context, id string) (*Upload, error)
	List(ctx context.Context) ([]Upload, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, chunksCreated, chunksStored int) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}
