package dispatch

import "sort"

// Backend method names. Each maps 1:1 onto a handler in the OMR backend.
const (
	CreateExam        = "create_exam"
	GetExams          = "get_exams"
	GetExam           = "get_exam"
	UploadStudents    = "upload_students"
	GetStudents       = "get_students"
	UploadSolution    = "upload_solution"
	GetSolution       = "get_solution"
	ProcessOMRImage   = "process_omr_image"
	BatchProcessOMR   = "batch_process_omr"
	SaveResult        = "save_result"
	GetResults        = "get_results"
	GetAllResults     = "get_all_results"
	GenerateOMRSheets = "generate_omr_sheets"
	DownloadOMRSheets = "download_omr_sheets"
	GetSettings       = "get_settings"
	UpdateSettings    = "update_settings"
)

// Method describes one catalogue entry.
type Method struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
	// Params names the Go type documenting the expected parameter shape.
	Params string `json:"params"`
}

var catalogue = map[string]Method{
	CreateExam:        {Name: CreateExam, Summary: "create an exam", Params: "CreateExamParams"},
	GetExams:          {Name: GetExams, Summary: "list all exams, newest first", Params: "none"},
	GetExam:           {Name: GetExam, Summary: "fetch one exam", Params: "ExamParams"},
	UploadStudents:    {Name: UploadStudents, Summary: "replace the student roster of an exam", Params: "UploadStudentsParams"},
	GetStudents:       {Name: GetStudents, Summary: "list the students of an exam by copy number", Params: "ExamParams"},
	UploadSolution:    {Name: UploadSolution, Summary: "replace the answer key of an exam", Params: "UploadSolutionParams"},
	GetSolution:       {Name: GetSolution, Summary: "fetch the answer key of an exam", Params: "ExamParams"},
	ProcessOMRImage:   {Name: ProcessOMRImage, Summary: "grade one scanned answer sheet", Params: "ProcessOMRImageParams"},
	BatchProcessOMR:   {Name: BatchProcessOMR, Summary: "grade several scanned answer sheets", Params: "BatchProcessOMRParams"},
	SaveResult:        {Name: SaveResult, Summary: "insert or update a student's result", Params: "SaveResultParams"},
	GetResults:        {Name: GetResults, Summary: "list the results of an exam", Params: "ExamParams"},
	GetAllResults:     {Name: GetAllResults, Summary: "list the results of every exam", Params: "none"},
	GenerateOMRSheets: {Name: GenerateOMRSheets, Summary: "build answer sheet previews for every student of an exam", Params: "ExamParams"},
	DownloadOMRSheets: {Name: DownloadOMRSheets, Summary: "build answer sheets for download", Params: "ExamParams"},
	GetSettings:       {Name: GetSettings, Summary: "read application settings", Params: "none"},
	UpdateSettings:    {Name: UpdateSettings, Summary: "update application settings", Params: "Settings"},
}

// Methods returns the catalogue sorted by name.
func Methods() []Method {
	methods := make([]Method, 0, len(catalogue))
	for _, m := range catalogue {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].Name < methods[j].Name })
	return methods
}

func Lookup(name string) (Method, bool) {
	m, ok := catalogue[name]
	return m, ok
}
