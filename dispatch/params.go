package dispatch

import (
	"encoding/base64"
	"encoding/json"
)

// The types below document what the backend expects and returns. The dispatcher forwards whatever
// it is given; the backend rejects bad parameters with a fault.

type CreateExamParams struct {
	// ExamID is generated by the backend when empty.
	ExamID       string `json:"examId,omitempty"`
	Name         string `json:"name"`
	DateTime     string `json:"dateTime"`
	Time         string `json:"time"`
	NumQuestions int    `json:"numQuestions"`
	// MarksPerMcq defaults to 1 and PassingPercentage to 60 on the backend.
	MarksPerMcq       float64        `json:"marksPerMcq,omitempty"`
	PassingPercentage float64        `json:"passingPercentage,omitempty"`
	Wing              string         `json:"wing"`
	Course            string         `json:"course"`
	Module            string         `json:"module"`
	SponsorDS         string         `json:"sponsorDS"`
	Instructions      string         `json:"instructions,omitempty"`
	Settings          map[string]any `json:"settings,omitempty"`
}

type CreateExamResult struct {
	ExamID  string `json:"examId"`
	Message string `json:"message"`
}

// ExamParams selects a single exam.
type ExamParams struct {
	ExamID string `json:"examId"`
}

type Student struct {
	Name         string `json:"name"`
	LockerNumber string `json:"lockerNumber"`
	Rank         string `json:"rank"`
}

type UploadStudentsParams struct {
	ExamID       string    `json:"examId"`
	StudentsData []Student `json:"studentsData"`
}

type UploadedStudent struct {
	Student
	// CopyNumber is the zero-padded position in the roster, starting at "001".
	CopyNumber string `json:"copyNumber"`
}

type UploadStudentsResult struct {
	Message  string            `json:"message"`
	Count    int               `json:"count"`
	Students []UploadedStudent `json:"students"`
}

type SolutionItem struct {
	Question int    `json:"question"`
	Answer   string `json:"answer"`
}

type UploadSolutionParams struct {
	ExamID        string         `json:"examId"`
	SolutionsData []SolutionItem `json:"solutionsData"`
}

type UploadSolutionResult struct {
	Message       string `json:"message"`
	SolutionCount int    `json:"solutionCount"`
}

type ProcessOMRImageParams struct {
	ExamID string `json:"examId"`
	// ImageData is the base64 encoded scan.
	ImageData string `json:"imageData"`
	StudentID string `json:"studentId"`
}

// NewProcessOMRImageParams encodes a raw scan.
func NewProcessOMRImageParams(examID, studentID string, image []byte) ProcessOMRImageParams {
	return ProcessOMRImageParams{
		ExamID:    examID,
		StudentID: studentID,
		ImageData: base64.StdEncoding.EncodeToString(image),
	}
}

type ProcessOMRImageResult struct {
	Success   bool            `json:"success"`
	ExamID    string          `json:"examId"`
	StudentID string          `json:"studentId"`
	Response  json.RawMessage `json:"response"`
}

type BatchProcessOMRParams struct {
	ExamID     string   `json:"examId"`
	ImagesData []string `json:"imagesData"`
}

// NewBatchProcessOMRParams encodes raw scans. The backend numbers them STUDENT_001, STUDENT_002, ...
func NewBatchProcessOMRParams(examID string, images [][]byte) BatchProcessOMRParams {
	p := BatchProcessOMRParams{ExamID: examID, ImagesData: make([]string, len(images))}
	for i, img := range images {
		p.ImagesData[i] = base64.StdEncoding.EncodeToString(img)
	}
	return p
}

type BatchItemResult struct {
	StudentID  string  `json:"studentId"`
	Filename   string  `json:"filename"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
	Score      float64 `json:"score,omitempty"`
	TotalMarks float64 `json:"totalMarks,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}

type BatchProcessOMRResult struct {
	Success               bool              `json:"success"`
	ExamID                string            `json:"examId"`
	TotalImages           int               `json:"totalImages"`
	ProcessedSuccessfully int               `json:"processedSuccessfully"`
	Results               []BatchItemResult `json:"results"`
}

// SaveResultParams is stored as given. It must carry examId and studentId, which identify the
// result to update.
type SaveResultParams map[string]any

type MessageResult struct {
	Message string `json:"message"`
}

type OMRSheet struct {
	StudentName string          `json:"studentName"`
	CopyNumber  string          `json:"copyNumber"`
	PreviewData json.RawMessage `json:"previewData"`
}

type OMRSheets struct {
	ExamName    string     `json:"examName"`
	TotalSheets int        `json:"totalSheets"`
	Sheets      []OMRSheet `json:"sheets"`
}

type DownloadOMRSheetsResult struct {
	Message string    `json:"message"`
	Data    OMRSheets `json:"data"`
}

// Settings is the free-form settings document (scanner, processing, exam, database sections).
type Settings map[string]any
