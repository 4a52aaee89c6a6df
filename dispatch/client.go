package dispatch

import (
	"context"
	"encoding/json"
)

// Client is a typed wrapper with one method per catalogue entry.
type Client struct {
	D *Dispatcher
}

func (c *Client) CreateExam(ctx context.Context, p CreateExamParams) (CreateExamResult, error) {
	return Invoke[CreateExamResult](ctx, c.D, CreateExam, p)
}

// GetExams returns the exam records as stored by the backend.
func (c *Client) GetExams(ctx context.Context) ([]json.RawMessage, error) {
	return Invoke[[]json.RawMessage](ctx, c.D, GetExams, nil)
}

func (c *Client) GetExam(ctx context.Context, examID string) (json.RawMessage, error) {
	return c.D.Invoke(ctx, GetExam, ExamParams{ExamID: examID})
}

func (c *Client) UploadStudents(ctx context.Context, examID string, students []Student) (UploadStudentsResult, error) {
	return Invoke[UploadStudentsResult](ctx, c.D, UploadStudents, UploadStudentsParams{ExamID: examID, StudentsData: students})
}

func (c *Client) GetStudents(ctx context.Context, examID string) ([]json.RawMessage, error) {
	return Invoke[[]json.RawMessage](ctx, c.D, GetStudents, ExamParams{ExamID: examID})
}

func (c *Client) UploadSolution(ctx context.Context, examID string, solutions []SolutionItem) (UploadSolutionResult, error) {
	return Invoke[UploadSolutionResult](ctx, c.D, UploadSolution, UploadSolutionParams{ExamID: examID, SolutionsData: solutions})
}

func (c *Client) GetSolution(ctx context.Context, examID string) (json.RawMessage, error) {
	return c.D.Invoke(ctx, GetSolution, ExamParams{ExamID: examID})
}

func (c *Client) ProcessOMRImage(ctx context.Context, examID, studentID string, image []byte) (ProcessOMRImageResult, error) {
	return Invoke[ProcessOMRImageResult](ctx, c.D, ProcessOMRImage, NewProcessOMRImageParams(examID, studentID, image))
}

func (c *Client) BatchProcessOMR(ctx context.Context, examID string, images [][]byte) (BatchProcessOMRResult, error) {
	return Invoke[BatchProcessOMRResult](ctx, c.D, BatchProcessOMR, NewBatchProcessOMRParams(examID, images))
}

func (c *Client) SaveResult(ctx context.Context, result SaveResultParams) (MessageResult, error) {
	return Invoke[MessageResult](ctx, c.D, SaveResult, result)
}

func (c *Client) GetResults(ctx context.Context, examID string) ([]json.RawMessage, error) {
	return Invoke[[]json.RawMessage](ctx, c.D, GetResults, ExamParams{ExamID: examID})
}

func (c *Client) GetAllResults(ctx context.Context) ([]json.RawMessage, error) {
	return Invoke[[]json.RawMessage](ctx, c.D, GetAllResults, nil)
}

func (c *Client) GenerateOMRSheets(ctx context.Context, examID string) (OMRSheets, error) {
	return Invoke[OMRSheets](ctx, c.D, GenerateOMRSheets, ExamParams{ExamID: examID})
}

func (c *Client) DownloadOMRSheets(ctx context.Context, examID string) (DownloadOMRSheetsResult, error) {
	return Invoke[DownloadOMRSheetsResult](ctx, c.D, DownloadOMRSheets, ExamParams{ExamID: examID})
}

func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	return Invoke[Settings](ctx, c.D, GetSettings, nil)
}

// UpdateSettings returns the settings as the backend accepted them.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (Settings, error) {
	return Invoke[Settings](ctx, c.D, UpdateSettings, s)
}
