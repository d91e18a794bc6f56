// Package core defines the collaborator interfaces shared by the narration
// pipeline, its stages and the processes that drive it.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// StagingStore is the remote area a synthesis operation writes its raw
// artifact into. Objects there are temporary and deleted once fetched.
type StagingStore interface {
	DownloadToFile(ctx context.Context, key, path string) error
	Delete(ctx context.Context, key string) error
}

// SynthesisRequest describes one long-running speech synthesis job.
type SynthesisRequest struct {
	Text         string
	LanguageCode string
	VoiceName    string
	// OutputKey names the staging object the remote service writes to.
	OutputKey string
}

// Operation is the remote handle of a long-running job.
type Operation struct {
	Name string
	Done bool
	// ErrorMessage is set when a finished operation failed remotely.
	ErrorMessage string
}

// SynthesisService starts long-running synthesis jobs and reports on them.
// Quota exhaustion must be reported as an error matching
// synthesis.ErrQuotaExhausted.
type SynthesisService interface {
	StartSynthesis(ctx context.Context, req SynthesisRequest) (Operation, error)
	GetOperation(ctx context.Context, name string) (Operation, error)
}

// Admitter gates calls against a shared quota.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Transcoder converts one local audio file into another format.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath, dstPath string) error
}

// Synthesizer turns text into a playable local audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outputPath string) error
}
